package trainer

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/corpus-trainer/internal/adapter/filestore"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/internal/textproc"
	"github.com/user/corpus-trainer/pkg/utils"
)

type recordingSink struct {
	mu      sync.Mutex
	metrics []entity.EpochMetrics
	onEmit  func(m entity.EpochMetrics)
}

func (s *recordingSink) Emit(ctx context.Context, m entity.EpochMetrics) error {
	s.mu.Lock()
	s.metrics = append(s.metrics, m)
	s.mu.Unlock()
	if s.onEmit != nil {
		s.onEmit(m)
	}
	return nil
}

func (s *recordingSink) epochs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.metrics))
	for i, m := range s.metrics {
		out[i] = m.Epoch
	}
	return out
}

var (
	positiveWords = []string{"great", "love", "awesome", "excellent", "smooth"}
	negativeWords = []string{"bad", "hate", "awful", "broken", "slow"}
)

func reviewData(t *testing.T, n int) (*textproc.Vocabulary, *textproc.FeatureBatch) {
	t.Helper()
	recs := make([]*entity.CorpusRecord, 0, n)
	for i := 0; i < n; i++ {
		words, label := positiveWords, "positive"
		if i%2 == 1 {
			words, label = negativeWords, "negative"
		}
		text := fmt.Sprintf("app %s %s review %d", words[i%5], words[(i/2+1)%5], i)
		recs = append(recs, &entity.CorpusRecord{Fingerprint: utils.Fingerprint(text), RawText: text, Label: label})
	}
	vocab, err := textproc.Fit(recs, textproc.FitOptions{
		Normalize:      textproc.NormalizeOptions{Lowercase: true, StripPunctuation: true, PunctuationRule: "unicode"},
		MinFrequency:   2,
		MinVocabSize:   2,
		SequenceLength: 8,
	})
	require.NoError(t, err)
	batch, err := textproc.Transform(context.Background(), recs, vocab)
	require.NoError(t, err)
	return vocab, batch
}

func testConfig() Config {
	return Config{
		Seed:               7,
		BatchSize:          8,
		MaxEpochs:          6,
		LearningRate:       0.1,
		ValidationFraction: 0.25,
		CheckpointInterval: 1,
		GradShards:         3,
		Resume:             true,
	}
}

func newStore(t *testing.T) (*filestore.CheckpointStore, string) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	return filestore.NewCheckpointStore(path), path
}

func TestTrainStopsAfterPatienceExhausted(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	cfg := testConfig()
	cfg.Patience = 2
	cfg.MaxEpochs = 10
	store, _ := newStore(t)
	sink := &recordingSink{}

	tr, err := New(cfg, vocab, store, sink)
	require.NoError(t, err)
	scores := []float64{0.50, 0.50, 0.49, 0.99}
	calls := 0
	tr.evaluate = func(p *entity.ModelParams, examples []example) (float64, float64) {
		s := scores[calls]
		calls++
		return 0.3, s
	}

	res, err := tr.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, ReasonPatience, res.StopReason)
	assert.Equal(t, 3, res.Epoch)
	assert.Equal(t, 1, res.BestEpoch)
	assert.Equal(t, 0.50, res.BestScore)
	assert.Equal(t, []int{1, 2, 3}, sink.epochs())

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, saved.Epoch)
	assert.Equal(t, Stopped.String(), saved.Status)
	assert.Equal(t, ReasonPatience, saved.StopReason)
	assert.Equal(t, 2, saved.PatienceCounter)

	again, err := New(cfg, vocab, store)
	require.NoError(t, err)
	res, err = again.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, 3, res.Epoch)
}

func TestTrainConvergesOnTarget(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	cfg := testConfig()
	cfg.TargetScore = 0.6
	tr, err := New(cfg, vocab, nil)
	require.NoError(t, err)
	scores := []float64{0.5, 0.7}
	calls := 0
	tr.evaluate = func(p *entity.ModelParams, examples []example) (float64, float64) {
		s := scores[calls]
		calls++
		return 0.3, s
	}

	res, err := tr.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.Equal(t, ReasonTarget, res.StopReason)
	assert.Equal(t, 2, res.Epoch)
}

func TestTrainStopsAtEpochLimitAndLearns(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	var states []State
	tr, err := New(testConfig(), vocab, nil)
	require.NoError(t, err)
	tr.OnStateChange(func(s State) { states = append(states, s) })

	res, err := tr.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, Stopped, res.State)
	assert.Equal(t, ReasonMaxEpochs, res.StopReason)
	assert.Equal(t, 6, res.Epoch)
	assert.Equal(t, []State{Training, Stopped}, states)
	assert.Greater(t, res.BestScore, 0.7)

	class, probs := Predict(res.Params, vocab.Encode("great love app"))
	assert.Equal(t, vocab.LabelIndex("positive"), class)
	assert.InDelta(t, 1.0, probs[0]+probs[1], 1e-9)
}

func TestTrainGradientShardsUnevenBatches(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	train := func(t *testing.T, batchSize, shards int) *Result {
		t.Helper()
		cfg := testConfig()
		cfg.BatchSize = batchSize
		cfg.GradShards = shards
		cfg.MaxEpochs = 2
		tr, err := New(cfg, vocab, nil)
		require.NoError(t, err)
		res, err := tr.Train(context.Background(), batch)
		require.NoError(t, err)
		return res
	}

	tests := []struct {
		batchSize int
		shards    int
	}{
		{5, 4},
		{32, 4},
		{10, 8},
		{7, 3},
		{3, 16},
		{1, 4},
		{6, 5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("batch=%d/shards=%d", tt.batchSize, tt.shards), func(t *testing.T) {
			first := train(t, tt.batchSize, tt.shards)
			second := train(t, tt.batchSize, tt.shards)
			assert.Equal(t, Stopped, first.State)
			assert.Equal(t, 2, first.Epoch)
			assert.Equal(t, first.Params, second.Params)

			single := train(t, tt.batchSize, 1)
			require.Len(t, single.Params.Weights, len(first.Params.Weights))
			for i, w := range single.Params.Weights {
				assert.InDelta(t, w, first.Params.Weights[i], 1e-6)
			}
		})
	}
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	vocab, batch := reviewData(t, 60)
	cfg := testConfig()

	fullStore, _ := newStore(t)
	fullSink := &recordingSink{}
	full, err := New(cfg, vocab, fullStore, fullSink)
	require.NoError(t, err)
	want, err := full.Train(context.Background(), batch)
	require.NoError(t, err)

	split, _ := newStore(t)
	firstCfg := cfg
	firstCfg.MaxEpochs = 3
	first, err := New(firstCfg, vocab, split)
	require.NoError(t, err)
	partial, err := first.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxEpochs, partial.StopReason)
	assert.Equal(t, 3, partial.Epoch)

	resumedSink := &recordingSink{}
	second, err := New(cfg, vocab, split, resumedSink)
	require.NoError(t, err)
	got, err := second.Train(context.Background(), batch)
	require.NoError(t, err)

	assert.True(t, got.Resumed)
	assert.Equal(t, partial.RunID, got.RunID)
	assert.Equal(t, want.Epoch, got.Epoch)
	assert.Equal(t, want.Params, got.Params)
	assert.Equal(t, want.BestScore, got.BestScore)
	assert.Equal(t, want.BestEpoch, got.BestEpoch)
	assert.Equal(t, []int{4, 5, 6}, resumedSink.epochs())
	for i, m := range resumedSink.metrics {
		assert.Equal(t, fullSink.metrics[3+i].TrainLoss, m.TrainLoss)
		assert.Equal(t, fullSink.metrics[3+i].ValScore, m.ValScore)
	}
}

func TestCancelledRunSavesProgressAndResumes(t *testing.T) {
	vocab, batch := reviewData(t, 60)
	cfg := testConfig()
	cfg.CheckpointInterval = 100

	full, err := New(cfg, vocab, nil)
	require.NoError(t, err)
	want, err := full.Train(context.Background(), batch)
	require.NoError(t, err)

	store, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := &recordingSink{onEmit: func(m entity.EpochMetrics) {
		if m.Epoch == 2 {
			cancel()
		}
	}}
	tr, err := New(cfg, vocab, store, sink)
	require.NoError(t, err)
	res, err := tr.Train(ctx, batch)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, Training, res.State)
	assert.Equal(t, 2, res.Epoch)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Epoch)
	assert.Equal(t, Training.String(), saved.Status)

	resumed, err := New(cfg, vocab, store)
	require.NoError(t, err)
	got, err := resumed.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, want.Params, got.Params)
	assert.Equal(t, want.BestScore, got.BestScore)
}

func TestTrainDivergence(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	cfg := testConfig()
	cfg.LearningRate = math.Inf(1)
	store, _ := newStore(t)
	tr, err := New(cfg, vocab, store)
	require.NoError(t, err)

	res, err := tr.Train(context.Background(), batch)
	assert.ErrorIs(t, err, ErrDivergence)
	require.NotNil(t, res)
	assert.Equal(t, Failed, res.State)

	_, err = store.Load(context.Background())
	assert.ErrorIs(t, err, repository.ErrCheckpointNotFound)
}

func TestResumeRejectsMismatchedCheckpoint(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	cfg := testConfig()
	cfg.MaxEpochs = 1
	store, _ := newStore(t)
	tr, err := New(cfg, vocab, store)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), batch)
	require.NoError(t, err)

	cfg.MaxEpochs = 3
	cfg.Seed = 8
	other, err := New(cfg, vocab, store)
	require.NoError(t, err)
	_, err = other.Train(context.Background(), batch)
	assert.ErrorIs(t, err, ErrCheckpointMismatch)

	cfg.Resume = false
	fresh, err := New(cfg, vocab, store)
	require.NoError(t, err)
	res, err := fresh.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, 3, res.Epoch)
}

func TestCorruptCheckpointFails(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	store, path := newStore(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"format_version":1,"checksum":"00","state":{}}`), 0o644))

	tr, err := New(testConfig(), vocab, store)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), batch)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)
}

func TestCorruptCheckpointFallsBackToPrevious(t *testing.T) {
	vocab, batch := reviewData(t, 40)
	cfg := testConfig()
	cfg.MaxEpochs = 2
	store, path := newStore(t)
	tr, err := New(cfg, vocab, store)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), batch)
	require.NoError(t, err)

	// Epoch 2 is current, epoch 1 was rotated to .prev.
	require.NoError(t, os.WriteFile(path, []byte("torn"), 0o644))
	cfg.MaxEpochs = 3
	resumed, err := New(cfg, vocab, store)
	require.NoError(t, err)
	sink := &recordingSink{}
	resumed.sinks = append(resumed.sinks, sink)
	res, err := resumed.Train(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, []int{2, 3}, sink.epochs())
}

func TestTrainInputErrors(t *testing.T) {
	vocab, batch := reviewData(t, 40)

	unlabeled := *batch
	unlabeled.Labels = make([]int, batch.Size)
	for i := range unlabeled.Labels {
		unlabeled.Labels[i] = -1
	}
	tr, err := New(testConfig(), vocab, nil)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), &unlabeled)
	assert.ErrorIs(t, err, ErrEmptySplit)

	oneClass := *vocab
	oneClass.Labels = []string{"positive"}
	_, err = New(testConfig(), &oneClass, nil)
	assert.ErrorIs(t, err, ErrTooFewClasses)

	cfg := testConfig()
	cfg.BatchSize = 0
	_, err = New(cfg, vocab, nil)
	assert.Error(t, err)
}
