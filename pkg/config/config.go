package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix         = "CORPUS_TRAINER"
	defaultConfigName = "corpus-trainer"
)

// Config holds the application configuration.
type Config struct {
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	DataDir     string `mapstructure:"data_dir"`

	Targets  TargetsConfig  `mapstructure:"targets"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Extract  ExtractConfig  `mapstructure:"extract"`
	Corpus   CorpusConfig   `mapstructure:"corpus"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Trainer  TrainerConfig  `mapstructure:"trainer"`
}

type TargetsConfig struct {
	File string   `mapstructure:"file"`
	URLs []string `mapstructure:"urls"`
}

type FetchConfig struct {
	Mode            string        `mapstructure:"mode"` // browser or static
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
	// MaxRetries is the total attempt budget per URL.
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	JitterFactor   float64       `mapstructure:"jitter_factor"`
	PoolSize       int           `mapstructure:"pool_size"`
	RatePerHost    float64       `mapstructure:"rate_per_host"`
	UserAgent      string        `mapstructure:"user_agent"`
	UserAgents     []string      `mapstructure:"user_agents"`
	Proxies        []string      `mapstructure:"proxies"`
	Headless       bool          `mapstructure:"headless"`
	WindowWidth    int           `mapstructure:"window_width"`
	WindowHeight   int           `mapstructure:"window_height"`
	BlockedMarkers []string      `mapstructure:"blocked_markers"`
	RevisitAfter   time.Duration `mapstructure:"revisit_after"`
	Settle         SettleConfig  `mapstructure:"settle"`
}

type SettleConfig struct {
	Policy         string        `mapstructure:"policy"` // network_idle, selector, fixed
	Selector       string        `mapstructure:"selector"`
	QuietPeriod    time.Duration `mapstructure:"quiet_period"`
	MaxWait        time.Duration `mapstructure:"max_wait"`
	ScrollSelector string        `mapstructure:"scroll_selector"`
	ScrollCount    int           `mapstructure:"scroll_count"`
	ScrollPause    time.Duration `mapstructure:"scroll_pause"`
}

type ExtractConfig struct {
	RecordSelector    string            `mapstructure:"record_selector"`
	MaxRecordsPerPage int               `mapstructure:"max_records_per_page"`
	TextField         string            `mapstructure:"text_field"`
	LabelField        string            `mapstructure:"label_field"`
	LabelMap          map[string]string `mapstructure:"label_map"`
	Fields            []FieldConfig     `mapstructure:"fields"`
	CacheSize         int               `mapstructure:"cache_size"`
}

type FieldConfig struct {
	Name      string   `mapstructure:"name"`
	Selectors []string `mapstructure:"selectors"`
	Mode      string   `mapstructure:"mode"` // text, attr, count, html
	Attr      string   `mapstructure:"attr"`
	Pattern   string   `mapstructure:"pattern"`
	Required  bool     `mapstructure:"required"`
}

type CorpusConfig struct {
	Backend string `mapstructure:"backend"` // file or postgres
	Path    string `mapstructure:"path"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PipelineConfig struct {
	Lowercase        bool     `mapstructure:"lowercase"`
	StripPunctuation bool     `mapstructure:"strip_punctuation"`
	PunctuationRule  string   `mapstructure:"punctuation_rule"` // unicode or ascii
	KeepChars        string   `mapstructure:"keep_chars"`
	RemoveStopwords  bool     `mapstructure:"remove_stopwords"`
	Stopwords        []string `mapstructure:"stopwords"`
	Stem             bool     `mapstructure:"stem"`
	MinFrequency     int      `mapstructure:"min_frequency"`
	MaxVocabSize     int      `mapstructure:"max_vocab_size"`
	MinVocabSize     int      `mapstructure:"min_vocab_size"`
	SequenceLength   int      `mapstructure:"sequence_length"`
	VocabularyPath   string   `mapstructure:"vocabulary_path"`
}

type TrainerConfig struct {
	Seed               uint64  `mapstructure:"seed"`
	BatchSize          int     `mapstructure:"batch_size"`
	MaxEpochs          int     `mapstructure:"max_epochs"`
	LearningRate       float64 `mapstructure:"learning_rate"`
	L2                 float64 `mapstructure:"l2"`
	Patience           int     `mapstructure:"patience"`
	MinDelta           float64 `mapstructure:"min_delta"`
	TargetScore        float64 `mapstructure:"target_score"`
	ValidationFraction float64 `mapstructure:"validation_fraction"`
	CheckpointInterval int     `mapstructure:"checkpoint_interval"`
	CheckpointPath     string  `mapstructure:"checkpoint_path"`
	MetricsPath        string  `mapstructure:"metrics_path"`
	GradShards         int     `mapstructure:"grad_shards"`
	Resume             bool    `mapstructure:"resume"`
}

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("data_dir", "data")

	v.SetDefault("targets.file", "")
	v.SetDefault("targets.urls", []string{})

	v.SetDefault("fetch.mode", "browser")
	v.SetDefault("fetch.page_load_timeout", 30*time.Second)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.initial_backoff", 2*time.Second)
	v.SetDefault("fetch.max_backoff", 30*time.Second)
	v.SetDefault("fetch.jitter_factor", 0.2)
	v.SetDefault("fetch.pool_size", 4)
	v.SetDefault("fetch.rate_per_host", 1.0)
	v.SetDefault("fetch.user_agent", `Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36`)
	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.proxies", []string{})
	v.SetDefault("fetch.headless", true)
	v.SetDefault("fetch.window_width", 1920)
	v.SetDefault("fetch.window_height", 1080)
	v.SetDefault("fetch.blocked_markers", []string{"captcha", "unusual traffic", "access denied"})
	v.SetDefault("fetch.revisit_after", 48*time.Hour)
	v.SetDefault("fetch.settle.policy", "network_idle")
	v.SetDefault("fetch.settle.selector", "")
	v.SetDefault("fetch.settle.quiet_period", 500*time.Millisecond)
	v.SetDefault("fetch.settle.max_wait", 10*time.Second)
	v.SetDefault("fetch.settle.scroll_selector", "")
	v.SetDefault("fetch.settle.scroll_count", 0)
	v.SetDefault("fetch.settle.scroll_pause", 2*time.Second)

	v.SetDefault("extract.record_selector", "")
	v.SetDefault("extract.max_records_per_page", 0)
	v.SetDefault("extract.text_field", "content")
	v.SetDefault("extract.label_field", "")
	v.SetDefault("extract.label_map", map[string]string{})
	v.SetDefault("extract.fields", []map[string]any{
		{"name": "content", "selectors": []string{"body"}, "mode": "text", "required": true},
	})
	v.SetDefault("extract.cache_size", 4096)

	v.SetDefault("corpus.backend", "file")
	v.SetDefault("corpus.path", "")
	v.SetDefault("postgres.url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("pipeline.lowercase", true)
	v.SetDefault("pipeline.strip_punctuation", true)
	v.SetDefault("pipeline.punctuation_rule", "unicode")
	v.SetDefault("pipeline.keep_chars", "")
	v.SetDefault("pipeline.remove_stopwords", false)
	v.SetDefault("pipeline.stopwords", []string{})
	v.SetDefault("pipeline.stem", false)
	v.SetDefault("pipeline.min_frequency", 2)
	v.SetDefault("pipeline.max_vocab_size", 0)
	v.SetDefault("pipeline.min_vocab_size", 2)
	v.SetDefault("pipeline.sequence_length", 128)
	v.SetDefault("pipeline.vocabulary_path", "")

	v.SetDefault("trainer.seed", 42)
	v.SetDefault("trainer.batch_size", 32)
	v.SetDefault("trainer.max_epochs", 30)
	v.SetDefault("trainer.learning_rate", 0.05)
	v.SetDefault("trainer.l2", 0.0)
	v.SetDefault("trainer.patience", 3)
	v.SetDefault("trainer.min_delta", 0.001)
	v.SetDefault("trainer.target_score", 0.0)
	v.SetDefault("trainer.validation_fraction", 0.2)
	v.SetDefault("trainer.checkpoint_interval", 1)
	v.SetDefault("trainer.checkpoint_path", "")
	v.SetDefault("trainer.metrics_path", "")
	v.SetDefault("trainer.grad_shards", 4)
	v.SetDefault("trainer.resume", true)
}

// Load reads configuration from path (or ./corpus-trainer.yaml when path is
// empty and the file exists) and from CORPUS_TRAINER_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName(defaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDataDir()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDataDir fills artifact paths that were left empty.
func (c *Config) applyDataDir() {
	if c.Corpus.Path == "" {
		c.Corpus.Path = filepath.Join(c.DataDir, "corpus.jsonl")
	}
	if c.Pipeline.VocabularyPath == "" {
		c.Pipeline.VocabularyPath = filepath.Join(c.DataDir, "vocabulary.json")
	}
	if c.Trainer.CheckpointPath == "" {
		c.Trainer.CheckpointPath = filepath.Join(c.DataDir, "checkpoint.json")
	}
	if c.Trainer.MetricsPath == "" {
		c.Trainer.MetricsPath = filepath.Join(c.DataDir, "metrics.jsonl")
	}
}

// FetchTasksPath is where the file backend logs fetch task outcomes.
func (c *Config) FetchTasksPath() string {
	return filepath.Join(c.DataDir, "fetch_tasks.jsonl")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Fetch.Mode {
	case "browser", "static":
	default:
		add("fetch.mode must be browser or static, got %q", c.Fetch.Mode)
	}
	if c.Fetch.PageLoadTimeout <= 0 {
		add("fetch.page_load_timeout must be positive")
	}
	if c.Fetch.MaxRetries < 1 {
		add("fetch.max_retries must be at least 1")
	}
	if c.Fetch.InitialBackoff < 0 || c.Fetch.MaxBackoff < c.Fetch.InitialBackoff {
		add("fetch backoff must satisfy 0 <= initial_backoff <= max_backoff")
	}
	if c.Fetch.JitterFactor < 0 || c.Fetch.JitterFactor >= 1 {
		add("fetch.jitter_factor must be in [0, 1)")
	}
	if c.Fetch.PoolSize < 1 {
		add("fetch.pool_size must be at least 1")
	}
	if c.Fetch.RatePerHost < 0 {
		add("fetch.rate_per_host must not be negative")
	}
	for i, p := range c.Fetch.Proxies {
		if u, err := url.Parse(p); err != nil || u.Scheme == "" || u.Host == "" {
			add("fetch.proxies[%d] %q is not a proxy URL", i, p)
		}
	}
	switch c.Fetch.Settle.Policy {
	case "network_idle", "fixed":
	case "selector":
		if c.Fetch.Settle.Selector == "" {
			add("fetch.settle.selector is required for the selector policy")
		}
	default:
		add("fetch.settle.policy must be network_idle, selector or fixed, got %q", c.Fetch.Settle.Policy)
	}
	if c.Fetch.Settle.ScrollCount < 0 {
		add("fetch.settle.scroll_count must not be negative")
	}

	if c.Extract.TextField == "" {
		add("extract.text_field is required")
	}
	if len(c.Extract.Fields) == 0 {
		add("extract.fields must define at least one field")
	}
	seen := make(map[string]bool)
	textFieldDefined := false
	for i, f := range c.Extract.Fields {
		if f.Name == "" {
			add("extract.fields[%d].name is required", i)
		}
		if seen[f.Name] {
			add("extract.fields[%d]: duplicate field %q", i, f.Name)
		}
		seen[f.Name] = true
		if f.Name == c.Extract.TextField {
			textFieldDefined = true
		}
		if len(f.Selectors) == 0 {
			add("extract.fields[%d].selectors must not be empty", i)
		}
		switch f.Mode {
		case "", "text", "count", "html":
		case "attr":
			if f.Attr == "" {
				add("extract.fields[%d].attr is required for attr mode", i)
			}
		default:
			add("extract.fields[%d].mode %q is not supported", i, f.Mode)
		}
	}
	if c.Extract.TextField != "" && !textFieldDefined {
		add("extract.text_field %q is not among extract.fields", c.Extract.TextField)
	}
	if c.Extract.LabelField != "" && !seen[c.Extract.LabelField] {
		add("extract.label_field %q is not among extract.fields", c.Extract.LabelField)
	}

	switch c.Corpus.Backend {
	case "file":
	case "postgres":
		if c.Postgres.URL == "" {
			add("postgres.url is required for the postgres corpus backend")
		}
	default:
		add("corpus.backend must be file or postgres, got %q", c.Corpus.Backend)
	}

	switch c.Pipeline.PunctuationRule {
	case "unicode", "ascii":
	default:
		add("pipeline.punctuation_rule must be unicode or ascii, got %q", c.Pipeline.PunctuationRule)
	}
	if c.Pipeline.MinFrequency < 1 {
		add("pipeline.min_frequency must be at least 1")
	}
	if c.Pipeline.SequenceLength < 1 {
		add("pipeline.sequence_length must be at least 1")
	}
	if c.Pipeline.MaxVocabSize < 0 || c.Pipeline.MinVocabSize < 1 {
		add("pipeline vocabulary bounds must satisfy max_vocab_size >= 0 and min_vocab_size >= 1")
	}

	t := c.Trainer
	if t.BatchSize < 1 {
		add("trainer.batch_size must be at least 1")
	}
	if t.MaxEpochs < 1 {
		add("trainer.max_epochs must be at least 1")
	}
	if t.LearningRate <= 0 {
		add("trainer.learning_rate must be positive")
	}
	if t.L2 < 0 {
		add("trainer.l2 must not be negative")
	}
	if t.Patience < 0 || t.MinDelta < 0 {
		add("trainer.patience and trainer.min_delta must not be negative")
	}
	if t.ValidationFraction <= 0 || t.ValidationFraction >= 1 {
		add("trainer.validation_fraction must be in (0, 1)")
	}
	if t.CheckpointInterval < 1 {
		add("trainer.checkpoint_interval must be at least 1")
	}
	if t.GradShards < 1 {
		add("trainer.grad_shards must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
