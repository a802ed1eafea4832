package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// CollectorConfig controls a collection run.
type CollectorConfig struct {
	PoolSize     int
	RevisitAfter time.Duration
	// Force ignores the revisit ledger.
	Force bool
}

// CollectSummary reports the outcome of a collection run.
type CollectSummary struct {
	Total         int
	Succeeded     int
	Failed        int
	Skipped       int
	Inserted      int
	Duplicates    int
	ExtractErrors int
	Failures      []*entity.FetchTask
}

// Collector runs URLs through Fetcher and Extractor into the corpus.
type Collector struct {
	fetcher   Fetcher
	extractor *Extractor
	tasks     repository.FetchTaskRepository
	visited   repository.VisitedRepository
	progress  *Progress
	cfg       CollectorConfig

	mu      sync.Mutex
	summary *CollectSummary
}

// NewCollector wires the collection stage. visited and progress may be nil.
func NewCollector(
	fetcher Fetcher,
	extractor *Extractor,
	tasks repository.FetchTaskRepository,
	visited repository.VisitedRepository,
	progress *Progress,
	cfg CollectorConfig,
) *Collector {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Collector{
		fetcher:   fetcher,
		extractor: extractor,
		tasks:     tasks,
		visited:   visited,
		progress:  progress,
		cfg:       cfg,
	}
}

// Collect processes urls with up to PoolSize concurrent fetches. A failing URL
// never aborts the run; a corpus write failure or cancellation does.
func (c *Collector) Collect(ctx context.Context, urls []string) (*CollectSummary, error) {
	urls = dedupeURLs(urls)

	c.mu.Lock()
	c.summary = &CollectSummary{Total: len(urls)}
	c.mu.Unlock()
	c.progress.update(func(s *entity.RunStatus) {
		s.Stage = "collect"
		s.URLsTotal += int64(len(urls))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.PoolSize)
	for _, u := range urls {
		if gctx.Err() != nil {
			break
		}
		task := entity.NewFetchTask(u)
		g.Go(func() error {
			return c.process(gctx, task)
		})
	}
	err := g.Wait()

	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()

	if err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (c *Collector) process(ctx context.Context, task *entity.FetchTask) error {
	if ctx.Err() != nil {
		return nil
	}

	if c.visited != nil {
		if c.cfg.Force {
			if err := c.visited.RemoveVisited(ctx, task.URL); err != nil {
				slog.Warn("Failed to clear revisit ledger entry", "url", task.URL, "error", err)
			}
		} else {
			visited, err := c.visited.IsVisited(ctx, task.URL)
			if err != nil {
				slog.Warn("Revisit ledger unavailable, collecting anyway", "url", task.URL, "error", err)
			} else if visited {
				slog.Info("Skipping recently collected URL", "url", task.URL)
				task.Status = entity.FetchSkipped
				task.UpdatedAt = time.Now().UTC()
				c.saveTask(ctx, task)
				c.record(func(s *CollectSummary) { s.Skipped++ }, func(s *entity.RunStatus) { s.URLsSkipped++ })
				return nil
			}
		}
	}

	slog.Info("Fetching URL", "url", task.URL)
	snapshot, err := c.fetcher.Fetch(ctx, task)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("Fetch failed, continuing with remaining URLs", "url", task.URL, "attempts", task.Attempts, "error", err)
		c.saveTask(ctx, task)
		c.record(func(s *CollectSummary) {
			s.Failed++
			s.Failures = append(s.Failures, task)
		}, func(s *entity.RunStatus) { s.URLsFailed++ })
		return nil
	}
	c.saveTask(ctx, task)
	c.record(func(s *CollectSummary) { s.Succeeded++ }, func(s *entity.RunStatus) { s.URLsSucceeded++ })

	result, err := c.extractor.ExtractPage(ctx, snapshot)
	if err != nil {
		var extractErr *ExtractError
		if errors.As(err, &extractErr) {
			c.logExtractError(err)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("store records from %s: %w", task.URL, err)
	}

	for _, skipped := range result.Skipped {
		c.logExtractError(skipped)
	}
	inserted, duplicates := 0, 0
	for _, x := range result.Extractions {
		if x.Inserted {
			inserted++
		} else {
			duplicates++
		}
	}
	c.record(func(s *CollectSummary) {
		s.Inserted += inserted
		s.Duplicates += duplicates
	}, func(s *entity.RunStatus) {
		s.Inserted += int64(inserted)
		s.Duplicates += int64(duplicates)
	})
	slog.Info("Extracted records", "url", task.URL, "inserted", inserted, "duplicates", duplicates, "skipped", len(result.Skipped))

	if c.visited != nil {
		if err := c.visited.MarkVisited(ctx, task.URL, c.cfg.RevisitAfter); err != nil {
			slog.Warn("Failed to mark URL as collected", "url", task.URL, "error", err)
		}
	}
	return nil
}

func (c *Collector) logExtractError(err error) {
	label := extractErrorLabel(err)
	metrics.ExtractErrorsTotal.WithLabelValues(label).Inc()
	slog.Warn("Skipping unextractable content", "kind", label, "error", err)
	c.record(func(s *CollectSummary) { s.ExtractErrors++ }, func(s *entity.RunStatus) { s.ExtractErrors++ })
}

// saveTask persists the task state; the log is advisory so failures only warn.
func (c *Collector) saveTask(ctx context.Context, task *entity.FetchTask) {
	if task.Status.Terminal() {
		metrics.FetchTasksTotal.WithLabelValues(string(task.Status)).Inc()
	}
	if c.tasks == nil {
		return
	}
	if err := c.tasks.Save(ctx, task); err != nil {
		slog.Warn("Failed to save fetch task", "url", task.URL, "error", err)
	}
}

func (c *Collector) record(summary func(s *CollectSummary), status func(s *entity.RunStatus)) {
	c.mu.Lock()
	summary(c.summary)
	c.mu.Unlock()
	c.progress.update(status)
}

func dedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
