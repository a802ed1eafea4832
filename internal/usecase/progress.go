package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/user/corpus-trainer/internal/entity"
)

// Progress aggregates run status for the status endpoint. A nil *Progress is
// valid and records nothing.
type Progress struct {
	mu     sync.RWMutex
	status entity.RunStatus
}

func NewProgress() *Progress {
	return &Progress{status: entity.RunStatus{Stage: "idle", UpdatedAt: time.Now().UTC()}}
}

func (p *Progress) update(fn func(s *entity.RunStatus)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.status)
	p.status.UpdatedAt = time.Now().UTC()
}

func (p *Progress) SetStage(stage string) {
	p.update(func(s *entity.RunStatus) { s.Stage = stage })
}

func (p *Progress) SetTrainerState(state string) {
	p.update(func(s *entity.RunStatus) { s.TrainerState = state })
}

// Emit records an epoch; Progress doubles as a metrics sink.
func (p *Progress) Emit(ctx context.Context, m entity.EpochMetrics) error {
	p.update(func(s *entity.RunStatus) {
		s.Epoch = m.Epoch
		s.TrainLoss = m.TrainLoss
		s.ValScore = m.ValScore
	})
	return nil
}

func (p *Progress) Snapshot() entity.RunStatus {
	if p == nil {
		return entity.RunStatus{}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}
