package trainer

import "fmt"

// State is the lifecycle of a training run.
type State int

const (
	Initialized State = iota
	Training
	Converged
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Training:
		return "training"
	case Converged:
		return "converged"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == Converged || s == Stopped || s == Failed
}

// ParseState is the inverse of String.
func ParseState(s string) (State, error) {
	for st := Initialized; st <= Failed; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return Initialized, fmt.Errorf("unknown trainer state %q", s)
}

// Stop reasons recorded in TrainingState.StopReason.
const (
	ReasonPatience  = "patience"
	ReasonTarget    = "target"
	ReasonMaxEpochs = "max_epochs"
	ReasonCancelled = "cancelled"
)

// Machine enforces Initialized -> Training -> {Converged, Stopped, Failed}.
type Machine struct {
	state  State
	reason string
	err    error
}

func NewMachine() *Machine {
	return &Machine{state: Initialized}
}

func (m *Machine) State() State   { return m.state }
func (m *Machine) Reason() string { return m.reason }
func (m *Machine) Err() error     { return m.err }

func (m *Machine) transition(from, to State) error {
	if m.state != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}

func (m *Machine) Start() error {
	return m.transition(Initialized, Training)
}

func (m *Machine) Converge() error {
	if err := m.transition(Training, Converged); err != nil {
		return err
	}
	m.reason = ReasonTarget
	return nil
}

func (m *Machine) Stop(reason string) error {
	if err := m.transition(Training, Stopped); err != nil {
		return err
	}
	m.reason = reason
	return nil
}

func (m *Machine) Fail(err error) error {
	if m.state.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, Failed)
	}
	m.state = Failed
	m.err = err
	return nil
}

// Decision is the early-stopping verdict for one epoch.
type Decision int

const (
	Continue Decision = iota
	StopNoImprovement
	StopTargetReached
)

// EarlyStopping tracks the best validation score. A score improves on the
// best only when it exceeds it by more than MinDelta.
type EarlyStopping struct {
	Patience    int
	MinDelta    float64
	TargetScore float64 // 0 disables

	BestScore float64
	BestEpoch int // 0 until the first observation
	Counter   int
}

// Observe records score for epoch and returns whether to keep going.
func (e *EarlyStopping) Observe(epoch int, score float64) Decision {
	if e.BestEpoch == 0 || score > e.BestScore+e.MinDelta {
		e.BestScore = score
		e.BestEpoch = epoch
		e.Counter = 0
	} else {
		e.Counter++
	}

	if e.TargetScore > 0 && score >= e.TargetScore {
		return StopTargetReached
	}
	if e.Patience > 0 && e.Counter >= e.Patience {
		return StopNoImprovement
	}
	return Continue
}
