package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/corpus-trainer/internal/delivery/http/handler"
	"github.com/user/corpus-trainer/internal/delivery/http/router"
	"github.com/user/corpus-trainer/internal/usecase"
	"github.com/user/corpus-trainer/pkg/config"
	"github.com/user/corpus-trainer/pkg/logger"
	"github.com/user/corpus-trainer/pkg/metrics"
)

var (
	configPath string

	cfg      *config.Config
	progress = usecase.NewProgress()
	server   *http.Server
)

var rootCmd = &cobra.Command{
	Use:           "corpus-trainer",
	Short:         "Collects review text from rendered pages and trains a text classifier on it.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		logger.Init(os.Stdout, logger.ParseLevel(cfg.LogLevel), cfg.LogFormat)
		metrics.Init()
		slog.Debug("Configuration loaded", "data_dir", cfg.DataDir, "corpus_backend", cfg.Corpus.Backend)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (default ./corpus-trainer.yaml)")
}

// ExecuteContext runs the CLI and returns the process exit code.
func ExecuteContext(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		_ = stopServer()
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "interrupted")
			return 130
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

// startServer serves status and metrics when metrics_addr is set. It is
// started by the long-running commands only.
func startServer() {
	if cfg.MetricsAddr == "" || server != nil {
		return
	}
	server = &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      router.New(handler.NewHandler(progress, openedCorpus)),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	go func() {
		slog.Info("Starting status server", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status server failed", "addr", cfg.MetricsAddr, "error", err)
		}
	}()
}

func stopServer() error {
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(ctx)
	server = nil
	return err
}
