package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/internal/textproc"
	"github.com/user/corpus-trainer/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// Config holds the training hyperparameters.
type Config struct {
	Seed               uint64
	BatchSize          int
	MaxEpochs          int
	LearningRate       float64
	L2                 float64
	Patience           int // 0 disables patience-based stopping
	MinDelta           float64
	TargetScore        float64 // 0 disables
	ValidationFraction float64
	CheckpointInterval int
	GradShards         int
	Resume             bool
}

func (c Config) validate() error {
	var errs []error
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize))
	}
	if c.MaxEpochs < 1 {
		errs = append(errs, fmt.Errorf("max epochs must be at least 1, got %d", c.MaxEpochs))
	}
	if !(c.LearningRate > 0) {
		errs = append(errs, fmt.Errorf("learning rate must be positive, got %v", c.LearningRate))
	}
	if c.ValidationFraction <= 0 || c.ValidationFraction >= 1 {
		errs = append(errs, fmt.Errorf("validation fraction must be in (0, 1), got %v", c.ValidationFraction))
	}
	return errors.Join(errs...)
}

// Result describes how a run ended.
type Result struct {
	RunID      string
	State      State
	StopReason string
	Epoch      int
	BestScore  float64
	BestEpoch  int
	Params     entity.ModelParams
	Resumed    bool
}

// Trainer fits a softmax classifier over a FeatureBatch with early stopping
// and checkpointing.
type Trainer struct {
	cfg         Config
	vocab       *textproc.Vocabulary
	checkpoints repository.CheckpointRepository
	sinks       []repository.MetricsSink
	observer    func(State)

	evaluate func(p *entity.ModelParams, examples []example) (loss, score float64)
	now      func() time.Time
}

// New builds a Trainer. checkpoints may be nil to disable checkpointing.
func New(cfg Config, vocab *textproc.Vocabulary, checkpoints repository.CheckpointRepository, sinks ...repository.MetricsSink) (*Trainer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("trainer config: %w", err)
	}
	if cfg.CheckpointInterval < 1 {
		cfg.CheckpointInterval = 1
	}
	if cfg.GradShards < 1 {
		cfg.GradShards = 1
	}
	if len(vocab.Labels) < 2 {
		return nil, fmt.Errorf("vocabulary has %d labels: %w", len(vocab.Labels), ErrTooFewClasses)
	}
	return &Trainer{
		cfg:         cfg,
		vocab:       vocab,
		checkpoints: checkpoints,
		sinks:       sinks,
		evaluate:    evaluateModel,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// OnStateChange registers fn to be called on every state transition.
func (t *Trainer) OnStateChange(fn func(State)) {
	t.observer = fn
}

func (t *Trainer) notify(m *Machine) {
	if t.observer != nil {
		t.observer(m.State())
	}
}

type run struct {
	state   *entity.TrainingState
	machine *Machine
	es      *EarlyStopping
	opt     *adam
	resumed bool
	unsaved bool
	shards  [][]float64
	grad    []float64
	scratch [][]float64
}

// Train runs epochs until early stopping, the epoch limit, divergence or
// cancellation. Cancellation is observed between epochs; the last completed
// epoch is checkpointed before Train returns the context error.
func (t *Trainer) Train(ctx context.Context, batch *textproc.FeatureBatch) (*Result, error) {
	if batch.SequenceLength != t.vocab.SequenceLength() {
		return nil, fmt.Errorf("batch sequence length %d does not match vocabulary %d", batch.SequenceLength, t.vocab.SequenceLength())
	}
	train, val := splitExamples(batch, t.cfg.Seed, t.cfg.ValidationFraction)
	if len(train) == 0 || len(val) == 0 {
		return nil, fmt.Errorf("%d labeled rows split into %d train and %d validation: %w",
			len(train)+len(val), len(train), len(val), ErrEmptySplit)
	}

	r, err := t.restore(ctx)
	if err != nil {
		return nil, err
	}
	if r.machine.State().Terminal() {
		slog.Info("Checkpoint already finished, nothing to train",
			"run_id", r.state.RunID, "state", r.machine.State().String(), "reason", r.machine.Reason(), "epoch", r.state.Epoch)
		return t.result(r), nil
	}
	t.notify(r.machine)
	slog.Info("Training started",
		"run_id", r.state.RunID, "resumed", r.resumed, "from_epoch", r.state.Epoch+1,
		"train_rows", len(train), "validation_rows", len(val), "classes", r.state.Params.Classes, "features", r.state.Params.Features)

	t.allocate(r)
	for epoch := r.state.Epoch + 1; epoch <= t.cfg.MaxEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return t.interrupt(ctx, r, err)
		}

		trainLoss := t.runEpoch(r, train, epoch)
		valLoss, valScore := t.evaluate(&r.state.Params, val)
		if !finite(trainLoss) || !finite(valLoss) {
			return t.diverge(r, epoch, trainLoss, valLoss)
		}

		r.state.Epoch = epoch
		decision := r.es.Observe(epoch, valScore)
		r.state.BestScore = r.es.BestScore
		r.state.BestEpoch = r.es.BestEpoch
		r.state.PatienceCounter = r.es.Counter
		r.unsaved = true
		t.emit(ctx, entity.EpochMetrics{
			RunID:     r.state.RunID,
			Epoch:     epoch,
			TrainLoss: trainLoss,
			ValScore:  valScore,
			ValLoss:   valLoss,
			Timestamp: t.now(),
		})

		switch decision {
		case StopTargetReached:
			err = r.machine.Converge()
		case StopNoImprovement:
			err = r.machine.Stop(ReasonPatience)
		}
		if err != nil {
			return nil, err
		}
		if r.machine.State().Terminal() {
			return t.finish(ctx, r)
		}
		if epoch%t.cfg.CheckpointInterval == 0 && epoch < t.cfg.MaxEpochs {
			if err := t.save(ctx, r); err != nil {
				return nil, err
			}
		}
	}

	if err := r.machine.Stop(ReasonMaxEpochs); err != nil {
		return nil, err
	}
	return t.finish(ctx, r)
}

// restore loads the checkpoint when resuming is enabled, or starts fresh.
func (t *Trainer) restore(ctx context.Context) (*run, error) {
	classes, features := len(t.vocab.Labels), t.vocab.Size()
	es := &EarlyStopping{Patience: t.cfg.Patience, MinDelta: t.cfg.MinDelta, TargetScore: t.cfg.TargetScore}

	if t.checkpoints != nil && t.cfg.Resume {
		state, err := t.checkpoints.Load(ctx)
		switch {
		case err == nil:
			return t.resume(state, es, classes, features)
		case errors.Is(err, repository.ErrCheckpointNotFound):
		default:
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
	}

	m := NewMachine()
	if err := m.Start(); err != nil {
		return nil, err
	}
	params := newParams(classes, features)
	state := &entity.TrainingState{
		RunID:            uuid.NewString(),
		Params:           params,
		Optimizer:        newOptimizerState(paramCount(&params)),
		Status:           Training.String(),
		Seed:             t.cfg.Seed,
		VocabularyDigest: t.vocab.Digest(),
		Labels:           slices.Clone(t.vocab.Labels),
		UpdatedAt:        t.now(),
	}
	return &run{state: state, machine: m, es: es, opt: &adam{lr: t.cfg.LearningRate, state: &state.Optimizer}}, nil
}

func (t *Trainer) resume(state *entity.TrainingState, es *EarlyStopping, classes, features int) (*run, error) {
	switch {
	case state.Seed != t.cfg.Seed:
		return nil, fmt.Errorf("checkpoint seed %d, configured %d: %w", state.Seed, t.cfg.Seed, ErrCheckpointMismatch)
	case state.VocabularyDigest != t.vocab.Digest():
		return nil, fmt.Errorf("checkpoint was trained on another vocabulary: %w", ErrCheckpointMismatch)
	case !slices.Equal(state.Labels, t.vocab.Labels):
		return nil, fmt.Errorf("checkpoint labels %v, vocabulary labels %v: %w", state.Labels, t.vocab.Labels, ErrCheckpointMismatch)
	case state.Params.Classes != classes || state.Params.Features != features ||
		len(state.Params.Weights) != classes*features || len(state.Params.Bias) != classes:
		return nil, fmt.Errorf("checkpoint parameters have shape %dx%d: %w", state.Params.Classes, state.Params.Features, ErrCheckpointMismatch)
	case len(state.Optimizer.M) != paramCount(&state.Params) || len(state.Optimizer.V) != paramCount(&state.Params):
		return nil, fmt.Errorf("checkpoint optimizer state has %d entries: %w", len(state.Optimizer.M), ErrCheckpointCorrupt)
	}

	status, err := ParseState(state.Status)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", ErrCheckpointCorrupt)
	}
	es.BestScore = state.BestScore
	es.BestEpoch = state.BestEpoch
	es.Counter = state.PatienceCounter

	m := NewMachine()
	resumable := status == Training ||
		(status == Stopped && state.StopReason == ReasonMaxEpochs && state.Epoch < t.cfg.MaxEpochs)
	if resumable {
		if err := m.Start(); err != nil {
			return nil, err
		}
		state.Status = Training.String()
		state.StopReason = ""
		slog.Info("Resuming training from checkpoint", "run_id", state.RunID, "epoch", state.Epoch, "best_score", state.BestScore)
	} else {
		m.state = status
		m.reason = state.StopReason
	}
	return &run{
		state:   state,
		machine: m,
		es:      es,
		opt:     &adam{lr: t.cfg.LearningRate, state: &state.Optimizer},
		resumed: true,
	}, nil
}

func (t *Trainer) allocate(r *run) {
	n := paramCount(&r.state.Params)
	r.grad = make([]float64, n)
	r.shards = make([][]float64, t.cfg.GradShards)
	r.scratch = make([][]float64, t.cfg.GradShards)
	for i := range r.shards {
		r.shards[i] = make([]float64, n)
		r.scratch[i] = make([]float64, r.state.Params.Classes)
	}
}

// runEpoch performs one pass over train in the epoch's shuffled order and
// returns the mean training loss. A non-finite batch loss ends the epoch early.
func (t *Trainer) runEpoch(r *run, train []example, epoch int) float64 {
	order := epochOrder(len(train), t.cfg.Seed, epoch)
	var total float64
	for start := 0; start < len(order); start += t.cfg.BatchSize {
		rows := order[start:min(start+t.cfg.BatchSize, len(order))]
		loss := t.gradient(r, train, rows)
		if !finite(loss) {
			return loss
		}
		total += loss

		scale := 1 / float64(len(rows))
		for i := range r.grad {
			r.grad[i] *= scale
		}
		if t.cfg.L2 > 0 {
			for i, w := range r.state.Params.Weights {
				r.grad[i] += t.cfg.L2 * w
			}
		}
		r.opt.step(&r.state.Params, r.grad)
	}
	return total / float64(len(train))
}

// gradient sums per-example gradients of rows into r.grad and returns the
// summed loss. Rows are split into contiguous shards computed concurrently
// and added up in shard order, so the result is independent of scheduling.
func (t *Trainer) gradient(r *run, train []example, rows []int) float64 {
	per := (len(rows) + len(r.shards) - 1) / len(r.shards)
	// Every shard gets at least one row; trailing shards may go unused.
	shards := (len(rows) + per - 1) / per
	losses := make([]float64, shards)

	var g errgroup.Group
	for s := 0; s < shards; s++ {
		g.Go(func() error {
			buf := r.shards[s]
			clear(buf)
			lo, hi := s*per, min((s+1)*per, len(rows))
			for _, row := range rows[lo:hi] {
				losses[s] += accumulate(&r.state.Params, train[row], buf, r.scratch[s])
			}
			return nil
		})
	}
	_ = g.Wait()

	clear(r.grad)
	var loss float64
	for s := 0; s < shards; s++ {
		loss += losses[s]
		for i, v := range r.shards[s] {
			r.grad[i] += v
		}
	}
	return loss
}

func (t *Trainer) emit(ctx context.Context, m entity.EpochMetrics) {
	metrics.TrainEpoch.Set(float64(m.Epoch))
	metrics.TrainLoss.Set(m.TrainLoss)
	metrics.ValScore.Set(m.ValScore)
	slog.Info("Epoch finished", "run_id", m.RunID, "epoch", m.Epoch, "train_loss", m.TrainLoss, "val_loss", m.ValLoss, "val_score", m.ValScore)
	for _, sink := range t.sinks {
		if err := sink.Emit(ctx, m); err != nil {
			slog.Warn("Failed to emit epoch metrics", "epoch", m.Epoch, "error", err)
		}
	}
}

func (t *Trainer) save(ctx context.Context, r *run) error {
	if t.checkpoints == nil {
		r.unsaved = false
		return nil
	}
	r.state.Status = r.machine.State().String()
	r.state.StopReason = r.machine.Reason()
	r.state.UpdatedAt = t.now()
	if err := t.checkpoints.Save(ctx, r.state); err != nil {
		return fmt.Errorf("save checkpoint at epoch %d: %w", r.state.Epoch, err)
	}
	r.unsaved = false
	slog.Debug("Checkpoint saved", "run_id", r.state.RunID, "epoch", r.state.Epoch)
	return nil
}

func (t *Trainer) finish(ctx context.Context, r *run) (*Result, error) {
	t.notify(r.machine)
	if err := t.save(ctx, r); err != nil {
		return nil, err
	}
	slog.Info("Training finished",
		"run_id", r.state.RunID, "state", r.machine.State().String(), "reason", r.machine.Reason(),
		"epoch", r.state.Epoch, "best_score", r.state.BestScore, "best_epoch", r.state.BestEpoch)
	return t.result(r), nil
}

func (t *Trainer) interrupt(ctx context.Context, r *run, cause error) (*Result, error) {
	if r.unsaved {
		if err := t.save(context.WithoutCancel(ctx), r); err != nil {
			return nil, errors.Join(cause, err)
		}
	}
	slog.Warn("Training interrupted", "run_id", r.state.RunID, "epoch", r.state.Epoch, "error", cause)
	return t.result(r), cause
}

func (t *Trainer) diverge(r *run, epoch int, trainLoss, valLoss float64) (*Result, error) {
	err := fmt.Errorf("epoch %d: train loss %v, validation loss %v: %w", epoch, trainLoss, valLoss, ErrDivergence)
	if ferr := r.machine.Fail(err); ferr != nil {
		return nil, ferr
	}
	t.notify(r.machine)
	slog.Error("Training diverged", "run_id", r.state.RunID, "epoch", epoch, "error", err)
	return t.result(r), err
}

func (t *Trainer) result(r *run) *Result {
	return &Result{
		RunID:      r.state.RunID,
		State:      r.machine.State(),
		StopReason: r.machine.Reason(),
		Epoch:      r.state.Epoch,
		BestScore:  r.state.BestScore,
		BestEpoch:  r.state.BestEpoch,
		Params:     r.state.Params,
		Resumed:    r.resumed,
	}
}
