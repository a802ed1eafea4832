package trainer

import (
	"math"

	"github.com/user/corpus-trainer/internal/entity"
)

const (
	adamBeta1   = 0.9
	adamBeta2   = 0.999
	adamEpsilon = 1e-8
)

type adam struct {
	lr    float64
	state *entity.OptimizerState
}

func newOptimizerState(n int) entity.OptimizerState {
	return entity.OptimizerState{M: make([]float64, n), V: make([]float64, n)}
}

// step applies one Adam update. grad is laid out weights first, then bias.
func (a *adam) step(p *entity.ModelParams, grad []float64) {
	a.state.Step++
	t := float64(a.state.Step)
	c1 := 1 - math.Pow(adamBeta1, t)
	c2 := 1 - math.Pow(adamBeta2, t)

	update := func(params []float64, offset int) {
		for i := range params {
			g := grad[offset+i]
			m := adamBeta1*a.state.M[offset+i] + (1-adamBeta1)*g
			v := adamBeta2*a.state.V[offset+i] + (1-adamBeta2)*g*g
			a.state.M[offset+i] = m
			a.state.V[offset+i] = v
			params[i] -= a.lr * (m / c1) / (math.Sqrt(v/c2) + adamEpsilon)
		}
	}
	update(p.Weights, 0)
	update(p.Bias, len(p.Weights))
}
