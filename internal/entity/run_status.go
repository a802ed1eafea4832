package entity

import "time"

// RunStatus is a point-in-time view of pipeline progress.
type RunStatus struct {
	Stage         string    `json:"stage"`
	URLsTotal     int64     `json:"urls_total"`
	URLsSucceeded int64     `json:"urls_succeeded"`
	URLsFailed    int64     `json:"urls_failed"`
	URLsSkipped   int64     `json:"urls_skipped"`
	Inserted      int64     `json:"records_inserted"`
	Duplicates    int64     `json:"records_duplicate"`
	ExtractErrors int64     `json:"extract_errors"`
	TrainerState  string    `json:"trainer_state,omitempty"`
	Epoch         int       `json:"epoch"`
	TrainLoss     float64   `json:"train_loss"`
	ValScore      float64   `json:"val_score"`
	UpdatedAt     time.Time `json:"updated_at"`
}
