package trainer

import (
	"errors"

	"github.com/user/corpus-trainer/internal/repository"
)

var (
	// ErrDivergence is returned when a loss becomes NaN or infinite.
	ErrDivergence = errors.New("training diverged")
	// ErrCheckpointCorrupt is returned when no intact checkpoint can be loaded.
	ErrCheckpointCorrupt = repository.ErrCheckpointCorrupt
	// ErrCheckpointMismatch is returned when a checkpoint belongs to a different
	// seed, vocabulary or label set.
	ErrCheckpointMismatch = errors.New("checkpoint does not match run configuration")
	// ErrEmptySplit is returned when the train or validation split has no rows.
	ErrEmptySplit = errors.New("empty data split")
	// ErrTooFewClasses is returned when the vocabulary knows fewer than two labels.
	ErrTooFewClasses = errors.New("need at least two classes")

	ErrInvalidTransition = errors.New("invalid state transition")
)
