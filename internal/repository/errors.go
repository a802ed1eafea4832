package repository

import (
	"errors"
	"fmt"
)

// Fetch failure kinds. Timeout and network failures are retried by the
// Fetcher; blocked and render failures are returned immediately.
var (
	ErrFetchTimeout = errors.New("fetch timed out")
	ErrFetchNetwork = errors.New("network error")
	ErrFetchBlocked = errors.New("blocked by anti-automation challenge")
	ErrFetchRender  = errors.New("page failed to render")
)

var (
	ErrRecordNotFound     = errors.New("corpus record not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrCheckpointCorrupt  = errors.New("checkpoint corrupt")
)

// FetchError describes a failed fetch attempt. Kind is one of the ErrFetch*
// sentinels, so errors.Is(err, ErrFetchTimeout) works on wrapped values.
type FetchError struct {
	Kind       error
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %v", e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	return errors.Is(e.Kind, ErrFetchTimeout) || errors.Is(e.Kind, ErrFetchNetwork)
}

// FetchErrorLabel maps an error to a short label for logs and metrics.
func FetchErrorLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFetchTimeout):
		return "timeout"
	case errors.Is(err, ErrFetchNetwork):
		return "network"
	case errors.Is(err, ErrFetchBlocked):
		return "blocked"
	case errors.Is(err, ErrFetchRender):
		return "render"
	default:
		return "unknown"
	}
}
