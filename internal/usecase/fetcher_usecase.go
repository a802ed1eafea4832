package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/metrics"
	"github.com/user/corpus-trainer/pkg/utils"
)

// FetchConfig controls a single URL's attempt budget.
type FetchConfig struct {
	PageLoadTimeout time.Duration
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64 // +/- fraction of the delay
	RatePerHost    float64 // attempts per second per host, 0 = unlimited
	BlockedMarkers []string
}

// Fetcher retrieves rendered page content for a task.
type Fetcher interface {
	// Fetch updates task after every attempt and returns the snapshot of the
	// first successful one. Cancellation of ctx is returned as ctx.Err().
	Fetch(ctx context.Context, task *entity.FetchTask) (*entity.PageSnapshot, error)
}

type fetcherUseCase struct {
	renderer repository.PageRenderer
	cfg      FetchConfig
	limiters *hostLimiters
	markers  []string
	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func() float64
}

// NewFetcher creates a Fetcher that drives renderer with retries.
func NewFetcher(renderer repository.PageRenderer, cfg FetchConfig) Fetcher {
	markers := make([]string, 0, len(cfg.BlockedMarkers))
	for _, m := range cfg.BlockedMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &fetcherUseCase{
		renderer: renderer,
		cfg:      cfg,
		limiters: newHostLimiters(cfg.RatePerHost),
		markers:  markers,
		sleep:    sleepCtx,
		jitter:   randomUnit,
	}
}

func (f *fetcherUseCase) Fetch(ctx context.Context, task *entity.FetchTask) (*entity.PageSnapshot, error) {
	if _, err := utils.ParseTargetURL(task.URL); err != nil {
		f.finish(task, entity.FetchFailed, err, "invalid_url", 0)
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			delay := backoffDelay(attempt-1, f.cfg.InitialBackoff, f.cfg.MaxBackoff, f.cfg.JitterFactor, f.jitter())
			slog.Info("Retrying fetch", "url", task.URL, "attempt", attempt, "delay_ms", delay.Milliseconds(), "last_error", lastErr)
			if err := f.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if err := f.limiters.wait(ctx, task.URL); err != nil {
			return nil, err
		}

		task.Attempts++
		task.Status = entity.FetchInFlight
		task.UpdatedAt = time.Now().UTC()

		snapshot, err := f.attempt(ctx, task.URL)
		if err == nil {
			metrics.FetchAttemptsTotal.WithLabelValues("success", "").Inc()
			f.finish(task, entity.FetchSucceeded, nil, "", snapshot.StatusCode)
			return snapshot, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		lastErr = err
		label := repository.FetchErrorLabel(err)
		metrics.FetchAttemptsTotal.WithLabelValues("failure", label).Inc()
		task.LastError = err.Error()
		task.ErrorKind = label

		var fetchErr *repository.FetchError
		if !errors.As(err, &fetchErr) || !fetchErr.Retryable() {
			slog.Warn("Fetch failed with non-retryable error", "url", task.URL, "attempt", attempt, "error", err)
			break
		}
		task.HTTPStatusCode = fetchErr.StatusCode
		slog.Warn("Fetch attempt failed", "url", task.URL, "attempt", attempt, "error", err)
	}

	statusCode := 0
	var fetchErr *repository.FetchError
	if errors.As(lastErr, &fetchErr) {
		statusCode = fetchErr.StatusCode
	}
	f.finish(task, entity.FetchFailed, lastErr, repository.FetchErrorLabel(lastErr), statusCode)
	return nil, lastErr
}

// attempt runs one independent render under the per-attempt timeout.
func (f *fetcherUseCase) attempt(ctx context.Context, url string) (*entity.PageSnapshot, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.PageLoadTimeout)
	defer cancel()

	startTime := time.Now()
	snapshot, err := f.renderer.Render(attemptCtx, url)
	metrics.FetchDuration.WithLabelValues(utils.Hostname(url), f.renderer.Name()).Observe(time.Since(startTime).Seconds())

	if err != nil {
		var fetchErr *repository.FetchError
		if !errors.As(err, &fetchErr) && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &repository.FetchError{Kind: repository.ErrFetchTimeout, URL: url, Err: err}
		}
		return nil, err
	}
	if err := f.inspect(snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// inspect classifies a rendered page that the renderer considered delivered.
func (f *fetcherUseCase) inspect(s *entity.PageSnapshot) error {
	switch code := s.StatusCode; {
	case code == http.StatusForbidden || code == http.StatusTooManyRequests:
		return &repository.FetchError{Kind: repository.ErrFetchBlocked, URL: s.URL, StatusCode: code}
	case code >= 500:
		return &repository.FetchError{Kind: repository.ErrFetchNetwork, URL: s.URL, StatusCode: code}
	case code >= 400:
		return &repository.FetchError{Kind: repository.ErrFetchRender, URL: s.URL, StatusCode: code}
	}

	title := strings.ToLower(s.Title)
	content := strings.ToLower(s.Content)
	for _, marker := range f.markers {
		if strings.Contains(title, marker) || strings.Contains(content, marker) {
			return &repository.FetchError{
				Kind:       repository.ErrFetchBlocked,
				URL:        s.URL,
				StatusCode: s.StatusCode,
				Err:        fmt.Errorf("page matches blocked marker %q", marker),
			}
		}
	}

	if strings.TrimSpace(s.Content) == "" || !strings.Contains(content, "<body") {
		return &repository.FetchError{
			Kind:       repository.ErrFetchRender,
			URL:        s.URL,
			StatusCode: s.StatusCode,
			Err:        errors.New("document has no body"),
		}
	}
	return nil
}

func (f *fetcherUseCase) finish(task *entity.FetchTask, status entity.FetchStatus, err error, kind string, statusCode int) {
	task.Status = status
	task.ErrorKind = kind
	task.LastError = ""
	if err != nil {
		task.LastError = err.Error()
	}
	if statusCode != 0 {
		task.HTTPStatusCode = statusCode
	}
	task.UpdatedAt = time.Now().UTC()
}
