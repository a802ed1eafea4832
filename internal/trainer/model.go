package trainer

import (
	"math"
	"sort"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/textproc"
	"gonum.org/v1/gonum/floats"
)

// feature is one non-zero entry of a length-normalized bag of tokens.
type feature struct {
	index int
	value float64
}

type example struct {
	features []feature
	label    int
}

// featurize counts the non-pad tokens of row and divides by their total.
func featurize(row []int32) []feature {
	counts := make(map[int32]int, len(row))
	total := 0
	for _, idx := range row {
		if idx == textproc.PadIndex {
			continue
		}
		counts[idx]++
		total++
	}
	out := make([]feature, 0, len(counts))
	for idx, c := range counts {
		out = append(out, feature{index: int(idx), value: float64(c) / float64(total)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].index < out[j].index })
	return out
}

func newParams(classes, features int) entity.ModelParams {
	return entity.ModelParams{
		Classes:  classes,
		Features: features,
		Weights:  make([]float64, classes*features),
		Bias:     make([]float64, classes),
	}
}

// paramCount is the length of the flattened weights-then-bias vector.
func paramCount(p *entity.ModelParams) int {
	return len(p.Weights) + len(p.Bias)
}

func logits(p *entity.ModelParams, x []feature, dst []float64) {
	for c := 0; c < p.Classes; c++ {
		z := p.Bias[c]
		row := p.Weights[c*p.Features : (c+1)*p.Features]
		for _, f := range x {
			if f.index < p.Features {
				z += row[f.index] * f.value
			}
		}
		dst[c] = z
	}
}

// softmax turns logits into probabilities in place and returns log-sum-exp.
func softmax(z []float64) float64 {
	lse := floats.LogSumExp(z)
	for i := range z {
		z[i] = math.Exp(z[i] - lse)
	}
	return lse
}

// accumulate adds the cross-entropy gradient of ex to grad and returns the
// example loss. scratch must hold Classes entries.
func accumulate(p *entity.ModelParams, ex example, grad, scratch []float64) float64 {
	logits(p, ex.features, scratch)
	zy := scratch[ex.label]
	lse := softmax(scratch)
	loss := lse - zy

	biasOff := len(p.Weights)
	for c := 0; c < p.Classes; c++ {
		g := scratch[c]
		if c == ex.label {
			g -= 1
		}
		row := grad[c*p.Features : (c+1)*p.Features]
		for _, f := range ex.features {
			if f.index < p.Features {
				row[f.index] += g * f.value
			}
		}
		grad[biasOff+c] += g
	}
	return loss
}

// evaluateModel returns mean cross-entropy and accuracy over examples.
func evaluateModel(p *entity.ModelParams, examples []example) (float64, float64) {
	if len(examples) == 0 {
		return 0, 0
	}
	scratch := make([]float64, p.Classes)
	var loss float64
	correct := 0
	for _, ex := range examples {
		logits(p, ex.features, scratch)
		zy := scratch[ex.label]
		loss += floats.LogSumExp(scratch) - zy
		if floats.MaxIdx(scratch) == ex.label {
			correct++
		}
	}
	n := float64(len(examples))
	return loss / n, float64(correct) / n
}

// Predict returns the most likely class of an encoded row and the class
// probabilities.
func Predict(p entity.ModelParams, row []int32) (int, []float64) {
	probs := make([]float64, p.Classes)
	logits(&p, featurize(row), probs)
	softmax(probs)
	return floats.MaxIdx(probs), probs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
