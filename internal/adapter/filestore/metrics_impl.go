package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/pkg/utils"
)

// MetricsWriter appends the per-epoch metrics stream as JSON lines.
type MetricsWriter struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func OpenMetricsWriter(path string) (*MetricsWriter, error) {
	if err := utils.EnsureDir(path); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics stream %s: %w", path, err)
	}
	return &MetricsWriter{f: f, enc: json.NewEncoder(f)}, nil
}

func (w *MetricsWriter) Emit(ctx context.Context, m entity.EpochMetrics) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(m)
}

func (w *MetricsWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}
