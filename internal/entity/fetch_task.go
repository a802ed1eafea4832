package entity

import "time"

type FetchStatus string

const (
	FetchPending   FetchStatus = "pending"
	FetchInFlight  FetchStatus = "in_flight"
	FetchSucceeded FetchStatus = "succeeded"
	FetchFailed    FetchStatus = "failed"
	// FetchSkipped marks URLs already collected within the revisit window.
	FetchSkipped FetchStatus = "skipped"
)

// Terminal reports whether no further attempts will be made.
func (s FetchStatus) Terminal() bool {
	return s == FetchSucceeded || s == FetchFailed || s == FetchSkipped
}

// FetchTask tracks one target URL through the Fetcher.
type FetchTask struct {
	URL            string      `json:"url"`
	Attempts       int         `json:"attempts"`
	Status         FetchStatus `json:"status"`
	LastError      string      `json:"last_error,omitempty"`
	ErrorKind      string      `json:"error_kind,omitempty"`
	HTTPStatusCode int         `json:"http_status_code,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func NewFetchTask(url string) *FetchTask {
	return &FetchTask{URL: url, Status: FetchPending, UpdatedAt: time.Now().UTC()}
}
