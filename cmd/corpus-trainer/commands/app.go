package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/user/corpus-trainer/internal/adapter/chromedp_browser"
	"github.com/user/corpus-trainer/internal/adapter/filestore"
	"github.com/user/corpus-trainer/internal/adapter/postgres"
	redis_adapter "github.com/user/corpus-trainer/internal/adapter/redis"
	"github.com/user/corpus-trainer/internal/adapter/static_http"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/internal/textproc"
	"github.com/user/corpus-trainer/internal/trainer"
	"github.com/user/corpus-trainer/internal/usecase"
)

var openedCorpus repository.CorpusRepository

// stores bundles the corpus and fetch-task backends with their teardown.
type stores struct {
	corpus  repository.CorpusRepository
	tasks   repository.FetchTaskRepository
	closers []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context) (*stores, error) {
	s := &stores{}
	switch cfg.Corpus.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s.closers = append(s.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			s.Close()
			return nil, err
		}
		slog.Info("PostgreSQL connection pool established")
		s.corpus = postgres.NewCorpusRepo(pool)
		s.tasks = postgres.NewFetchTaskRepo(pool)
	default:
		store, err := filestore.OpenCorpusStore(cfg.Corpus.Path)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() {
			if err := store.Close(); err != nil {
				slog.Warn("Failed to close corpus file", "path", cfg.Corpus.Path, "error", err)
			}
		})
		s.corpus = store
		s.tasks = filestore.NewFetchTaskLog(cfg.FetchTasksPath())
	}
	openedCorpus = s.corpus
	return s, nil
}

// openVisited connects the revisit ledger; it returns nil when redis is not
// configured.
func openVisited(ctx context.Context) (repository.VisitedRepository, func(), error) {
	if cfg.Redis.Addr == "" {
		return nil, func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	slog.Info("Redis connection established")
	return redis_adapter.NewVisitedRepo(rdb), func() { rdb.Close() }, nil
}

func newRenderer() repository.PageRenderer {
	f := cfg.Fetch
	if f.Mode == "static" {
		return static_http.NewCollyRenderer(f.UserAgent, f.PageLoadTimeout)
	}
	return chromedp_browser.NewChromedpRenderer(chromedp_browser.Options{
		UserAgent:    f.UserAgent,
		UserAgents:   f.UserAgents,
		Proxies:      f.Proxies,
		Headless:     f.Headless,
		WindowWidth:  f.WindowWidth,
		WindowHeight: f.WindowHeight,
		Settle: chromedp_browser.SettleOptions{
			Policy:         f.Settle.Policy,
			Selector:       f.Settle.Selector,
			QuietPeriod:    f.Settle.QuietPeriod,
			MaxWait:        f.Settle.MaxWait,
			ScrollSelector: f.Settle.ScrollSelector,
			ScrollCount:    f.Settle.ScrollCount,
			ScrollPause:    f.Settle.ScrollPause,
		},
	})
}

func newFetcher() usecase.Fetcher {
	f := cfg.Fetch
	return usecase.NewFetcher(newRenderer(), usecase.FetchConfig{
		PageLoadTimeout: f.PageLoadTimeout,
		MaxRetries:      f.MaxRetries,
		InitialBackoff:  f.InitialBackoff,
		MaxBackoff:      f.MaxBackoff,
		JitterFactor:    f.JitterFactor,
		RatePerHost:     f.RatePerHost,
		BlockedMarkers:  f.BlockedMarkers,
	})
}

// loadTargets returns the configured URLs followed by those in the targets
// file. Blank lines and lines starting with # are ignored.
func loadTargets() ([]string, error) {
	urls := append([]string(nil), cfg.Targets.URLs...)
	if cfg.Targets.File == "" {
		return urls, nil
	}
	f, err := os.Open(cfg.Targets.File)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return urls, nil
}

type collectOptions struct {
	force       bool
	retryFailed bool
}

func collect(ctx context.Context, st *stores, opts collectOptions) (*usecase.CollectSummary, error) {
	var urls []string
	if opts.retryFailed {
		failed, err := st.tasks.FindFailed(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("load failed fetch tasks: %w", err)
		}
		for _, task := range failed {
			urls = append(urls, task.URL)
		}
		slog.Info("Retrying failed URLs", "count", len(urls))
	} else {
		targets, err := loadTargets()
		if err != nil {
			return nil, err
		}
		urls = targets
	}
	if len(urls) == 0 {
		return nil, errors.New("no target URLs configured (targets.urls or targets.file)")
	}

	rules, err := usecase.CompileRules(cfg.Extract)
	if err != nil {
		return nil, err
	}
	extractor, err := usecase.NewExtractor(rules, st.corpus, cfg.Extract.CacheSize)
	if err != nil {
		return nil, err
	}
	visited, closeVisited, err := openVisited(ctx)
	if err != nil {
		return nil, err
	}
	defer closeVisited()

	collector := usecase.NewCollector(newFetcher(), extractor, st.tasks, visited, progress, usecase.CollectorConfig{
		PoolSize:     cfg.Fetch.PoolSize,
		RevisitAfter: cfg.Fetch.RevisitAfter,
		Force:        opts.force,
	})
	return collector.Collect(ctx, urls)
}

func fitOptions() textproc.FitOptions {
	p := cfg.Pipeline
	return textproc.FitOptions{
		Normalize: textproc.NormalizeOptions{
			Lowercase:        p.Lowercase,
			StripPunctuation: p.StripPunctuation,
			PunctuationRule:  p.PunctuationRule,
			KeepChars:        p.KeepChars,
			RemoveStopwords:  p.RemoveStopwords,
			Stopwords:        p.Stopwords,
			Stem:             p.Stem,
		},
		MinFrequency:   p.MinFrequency,
		MaxVocabSize:   p.MaxVocabSize,
		MinVocabSize:   p.MinVocabSize,
		SequenceLength: p.SequenceLength,
	}
}

func corpusRecords(ctx context.Context, corpus repository.CorpusRepository) ([]*entity.CorpusRecord, error) {
	seq, err := corpus.All(ctx)
	if err != nil {
		return nil, err
	}
	return repository.Collect(seq)
}

func fitVocabulary(ctx context.Context, st *stores) (*textproc.Vocabulary, int, error) {
	progress.SetStage("fit")
	records, err := corpusRecords(ctx, st.corpus)
	if err != nil {
		return nil, 0, fmt.Errorf("read corpus: %w", err)
	}
	vocab, err := textproc.Fit(records, fitOptions())
	if err != nil {
		return nil, 0, err
	}
	if err := vocab.Save(cfg.Pipeline.VocabularyPath); err != nil {
		return nil, 0, err
	}
	slog.Info("Vocabulary fitted", "records", len(records), "tokens", vocab.Size(), "labels", len(vocab.Labels), "path", cfg.Pipeline.VocabularyPath)
	return vocab, len(records), nil
}

func trainerConfig() trainer.Config {
	t := cfg.Trainer
	return trainer.Config{
		Seed:               t.Seed,
		BatchSize:          t.BatchSize,
		MaxEpochs:          t.MaxEpochs,
		LearningRate:       t.LearningRate,
		L2:                 t.L2,
		Patience:           t.Patience,
		MinDelta:           t.MinDelta,
		TargetScore:        t.TargetScore,
		ValidationFraction: t.ValidationFraction,
		CheckpointInterval: t.CheckpointInterval,
		GradShards:         t.GradShards,
		Resume:             t.Resume,
	}
}

func train(ctx context.Context, st *stores, vocab *textproc.Vocabulary) (*trainer.Result, error) {
	progress.SetStage("transform")
	records, err := corpusRecords(ctx, st.corpus)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	batch, err := textproc.Transform(ctx, records, vocab)
	if err != nil {
		return nil, err
	}
	slog.Info("Corpus transformed", "rows", batch.Size, "labeled", batch.Labeled(), "sequence_length", batch.SequenceLength)

	stream, err := filestore.OpenMetricsWriter(cfg.Trainer.MetricsPath)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	tr, err := trainer.New(trainerConfig(), vocab, filestore.NewCheckpointStore(cfg.Trainer.CheckpointPath), stream, progress)
	if err != nil {
		return nil, err
	}
	tr.OnStateChange(func(s trainer.State) { progress.SetTrainerState(s.String()) })

	progress.SetStage("train")
	return tr.Train(ctx, batch)
}
