package trainer

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/user/corpus-trainer/internal/textproc"
)

func TestInValidationIsStableAndProportional(t *testing.T) {
	inVal := 0
	for i := 0; i < 10000; i++ {
		fp := fmt.Sprintf("fingerprint-%d", i)
		got := inValidation(42, fp, 0.2)
		assert.Equal(t, got, inValidation(42, fp, 0.2))
		if got {
			inVal++
		}
	}
	assert.InDelta(t, 2000, inVal, 250)
}

func TestSplitExamplesSkipsUnlabeled(t *testing.T) {
	batch := &textproc.FeatureBatch{
		Indices:        [][]int32{{2, 3, 0}, {2, 0, 0}, {3, 3, 0}},
		Labels:         []int{0, -1, 1},
		Fingerprints:   []string{"a", "b", "c"},
		Size:           3,
		SequenceLength: 3,
	}
	train, val := splitExamples(batch, 1, 0.5)
	assert.Len(t, append(train, val...), 2)
}

func TestEpochOrder(t *testing.T) {
	a := epochOrder(50, 7, 1)
	assert.Equal(t, a, epochOrder(50, 7, 1))
	assert.NotEqual(t, a, epochOrder(50, 7, 2))
	assert.NotEqual(t, a, epochOrder(50, 8, 1))
	assert.ElementsMatch(t, a, epochOrder(50, 7, 2))
}

func TestFeaturize(t *testing.T) {
	got := featurize([]int32{3, 2, 3, 1, 0, 0})
	assert.Equal(t, []feature{{1, 0.25}, {2, 0.25}, {3, 0.5}}, got)
	assert.Empty(t, featurize([]int32{0, 0}))
}
