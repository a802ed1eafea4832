package repository

import (
	"context"

	"github.com/user/corpus-trainer/internal/entity"
)

// CheckpointRepository persists TrainingState atomically.
type CheckpointRepository interface {
	Save(ctx context.Context, state *entity.TrainingState) error
	// Load returns the newest intact checkpoint, ErrCheckpointNotFound when
	// none exists, or an error wrapping ErrCheckpointCorrupt when none is intact.
	Load(ctx context.Context) (*entity.TrainingState, error)
}

// MetricsSink consumes the per-epoch metrics stream.
type MetricsSink interface {
	Emit(ctx context.Context, m entity.EpochMetrics) error
}
