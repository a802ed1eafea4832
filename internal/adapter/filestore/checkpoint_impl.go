package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/metrics"
	"github.com/user/corpus-trainer/pkg/utils"
)

const checkpointFormatVersion = 1

type checkpointEnvelope struct {
	FormatVersion int             `json:"format_version"`
	Checksum      string          `json:"checksum"`
	State         json.RawMessage `json:"state"`
}

// CheckpointStore keeps the newest checkpoint at path and the one before it
// at path+".prev".
type CheckpointStore struct {
	path string
}

func NewCheckpointStore(path string) *CheckpointStore {
	return &CheckpointStore{path: path}
}

func (s *CheckpointStore) prevPath() string { return s.path + ".prev" }

// Save writes state atomically. An intact current checkpoint is kept as the
// previous one before the new file replaces it.
func (s *CheckpointStore) Save(ctx context.Context, state *entity.TrainingState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		metrics.CheckpointWritesTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("encode training state: %w", err)
	}
	sum := sha256.Sum256(payload)
	data, err := json.Marshal(checkpointEnvelope{
		FormatVersion: checkpointFormatVersion,
		Checksum:      hex.EncodeToString(sum[:]),
		State:         payload,
	})
	if err != nil {
		metrics.CheckpointWritesTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	if _, err := readCheckpoint(s.path); err == nil {
		if err := os.Rename(s.path, s.prevPath()); err != nil {
			metrics.CheckpointWritesTotal.WithLabelValues("save", "error").Inc()
			return fmt.Errorf("rotate checkpoint: %w", err)
		}
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o644); err != nil {
		metrics.CheckpointWritesTotal.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	metrics.CheckpointWritesTotal.WithLabelValues("save", "ok").Inc()
	return nil
}

// Load returns the current checkpoint, falling back to the previous one when
// the current file is missing or corrupt.
func (s *CheckpointStore) Load(ctx context.Context) (*entity.TrainingState, error) {
	state, err := readCheckpoint(s.path)
	if err == nil {
		metrics.CheckpointWritesTotal.WithLabelValues("load", "ok").Inc()
		return state, nil
	}
	currentMissing := errors.Is(err, fs.ErrNotExist)
	if !currentMissing {
		slog.Warn("Checkpoint is corrupt, trying previous checkpoint", "path", s.path, "error", err)
		metrics.CheckpointWritesTotal.WithLabelValues("load", "corrupt").Inc()
	}

	prev, prevErr := readCheckpoint(s.prevPath())
	switch {
	case prevErr == nil:
		slog.Warn("Resuming from previous checkpoint", "path", s.prevPath(), "epoch", prev.Epoch)
		metrics.CheckpointWritesTotal.WithLabelValues("load", "fallback").Inc()
		return prev, nil
	case errors.Is(prevErr, fs.ErrNotExist) && currentMissing:
		return nil, repository.ErrCheckpointNotFound
	case errors.Is(prevErr, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s: %v", repository.ErrCheckpointCorrupt, s.path, err)
	default:
		return nil, fmt.Errorf("%w: no intact checkpoint at %s or %s: %v", repository.ErrCheckpointCorrupt, s.path, s.prevPath(), prevErr)
	}
}

// readCheckpoint returns fs.ErrNotExist for a missing file and a plain error
// for anything that fails verification.
func readCheckpoint(path string) (*entity.TrainingState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var env checkpointEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.FormatVersion != checkpointFormatVersion {
		return nil, fmt.Errorf("unsupported checkpoint format %d", env.FormatVersion)
	}
	sum := sha256.Sum256(env.State)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, errors.New("checksum mismatch")
	}
	var state entity.TrainingState
	if err := json.Unmarshal(env.State, &state); err != nil {
		return nil, fmt.Errorf("decode training state: %w", err)
	}
	return &state, nil
}
