package repository

import (
	"context"

	"github.com/user/corpus-trainer/internal/entity"
)

// FetchTaskRepository records fetch task outcomes across runs.
type FetchTaskRepository interface {
	// Save creates or replaces the state of the task for its URL.
	Save(ctx context.Context, task *entity.FetchTask) error
	// FindFailed returns tasks whose latest state is failed.
	FindFailed(ctx context.Context, limit int) ([]*entity.FetchTask, error)
}
