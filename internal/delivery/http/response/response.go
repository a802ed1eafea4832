package response

import "time"

type URLCounts struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
}

type RecordCounts struct {
	Inserted      int64 `json:"inserted"`
	Duplicates    int64 `json:"duplicates"`
	ExtractErrors int64 `json:"extract_errors"`
}

type TrainerStatus struct {
	State     string  `json:"state"`
	Epoch     int     `json:"epoch"`
	TrainLoss float64 `json:"train_loss"`
	ValScore  float64 `json:"val_score"`
}

// RunStatusResponse is the body of GET /api/status.
type RunStatusResponse struct {
	Stage     string         `json:"stage"`
	URLs      URLCounts      `json:"urls"`
	Records   RecordCounts   `json:"records"`
	Trainer   *TrainerStatus `json:"trainer,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

type RecordResponse struct {
	Fingerprint string            `json:"fingerprint"`
	SourceURL   string            `json:"source_url"`
	RawText     string            `json:"raw_text"`
	Fields      map[string]string `json:"fields,omitempty"`
	Label       string            `json:"label,omitempty"`
	InsertedAt  time.Time         `json:"inserted_at"`
}
