package trainer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachineTransitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Initialized, m.State())
	assert.ErrorIs(t, m.Converge(), ErrInvalidTransition)
	assert.ErrorIs(t, m.Stop(ReasonPatience), ErrInvalidTransition)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrInvalidTransition)
	require.NoError(t, m.Stop(ReasonPatience))
	assert.Equal(t, Stopped, m.State())
	assert.Equal(t, ReasonPatience, m.Reason())
	assert.True(t, m.State().Terminal())

	assert.ErrorIs(t, m.Converge(), ErrInvalidTransition)
	assert.ErrorIs(t, m.Fail(errors.New("late")), ErrInvalidTransition)
}

func TestMachineConvergeAndFail(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Start())
	require.NoError(t, m.Converge())
	assert.Equal(t, Converged, m.State())
	assert.Equal(t, ReasonTarget, m.Reason())

	m = NewMachine()
	cause := errors.New("boom")
	require.NoError(t, m.Fail(cause))
	assert.Equal(t, Failed, m.State())
	assert.Equal(t, cause, m.Err())
}

func TestParseState(t *testing.T) {
	for st := Initialized; st <= Failed; st++ {
		got, err := ParseState(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
	_, err := ParseState("running")
	assert.Error(t, err)
}

func TestEarlyStoppingPatience(t *testing.T) {
	es := &EarlyStopping{Patience: 2}
	assert.Equal(t, Continue, es.Observe(1, 0.50))
	assert.Equal(t, Continue, es.Observe(2, 0.50))
	assert.Equal(t, StopNoImprovement, es.Observe(3, 0.49))
	assert.Equal(t, 1, es.BestEpoch)
	assert.Equal(t, 0.50, es.BestScore)
	assert.Equal(t, 2, es.Counter)
}

func TestEarlyStoppingMinDelta(t *testing.T) {
	es := &EarlyStopping{Patience: 3, MinDelta: 0.01}
	es.Observe(1, 0.50)
	es.Observe(2, 0.505)
	assert.Equal(t, 1, es.BestEpoch)
	assert.Equal(t, 1, es.Counter)

	es.Observe(3, 0.52)
	assert.Equal(t, 3, es.BestEpoch)
	assert.Equal(t, 0, es.Counter)
}

func TestEarlyStoppingTarget(t *testing.T) {
	es := &EarlyStopping{Patience: 5, TargetScore: 0.9}
	assert.Equal(t, Continue, es.Observe(1, 0.5))
	assert.Equal(t, StopTargetReached, es.Observe(2, 0.95))
}

func TestEarlyStoppingZeroPatienceNeverStops(t *testing.T) {
	es := &EarlyStopping{}
	for epoch := 1; epoch <= 10; epoch++ {
		assert.Equal(t, Continue, es.Observe(epoch, 0.1))
	}
}
