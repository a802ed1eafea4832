package entity

import "time"

// ModelParams holds a linear classifier: Weights is row-major
// [Classes][Features], Bias has one entry per class.
type ModelParams struct {
	Classes  int       `json:"classes"`
	Features int       `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     []float64 `json:"bias"`
}

// OptimizerState holds Adam moment estimates laid out like ModelParams,
// weights first and bias last.
type OptimizerState struct {
	Step int       `json:"step"`
	M    []float64 `json:"m"`
	V    []float64 `json:"v"`
}

// TrainingState is everything needed to resume a run.
type TrainingState struct {
	RunID            string         `json:"run_id"`
	Epoch            int            `json:"epoch"`
	Params           ModelParams    `json:"params"`
	Optimizer        OptimizerState `json:"optimizer"`
	BestScore        float64        `json:"best_score"`
	BestEpoch        int            `json:"best_epoch"`
	PatienceCounter  int            `json:"patience_counter"`
	Status           string         `json:"status"`
	StopReason       string         `json:"stop_reason,omitempty"`
	Seed             uint64         `json:"seed"`
	VocabularyDigest string         `json:"vocabulary_digest"`
	Labels           []string       `json:"labels"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// EpochMetrics is one entry of the metrics stream.
type EpochMetrics struct {
	RunID     string    `json:"run_id"`
	Epoch     int       `json:"epoch"`
	TrainLoss float64   `json:"train_loss"`
	ValScore  float64   `json:"val_score"`
	ValLoss   float64   `json:"val_loss"`
	Timestamp time.Time `json:"timestamp"`
}
