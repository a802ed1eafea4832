package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/user/corpus-trainer/internal/adapter/filestore"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/internal/textproc"
	"github.com/user/corpus-trainer/internal/trainer"
)

var predictCmd = &cobra.Command{
	Use:   "predict TEXT...",
	Short: "Classifies each argument with the last checkpointed model.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vocab, err := textproc.LoadVocabulary(cfg.Pipeline.VocabularyPath)
		if err != nil {
			return fmt.Errorf("%w (run fit first)", err)
		}
		state, err := filestore.NewCheckpointStore(cfg.Trainer.CheckpointPath).Load(cmd.Context())
		if errors.Is(err, repository.ErrCheckpointNotFound) {
			return errors.New("no checkpoint found (run train first)")
		}
		if err != nil {
			return err
		}
		if state.VocabularyDigest != vocab.Digest() {
			return fmt.Errorf("vocabulary at %s: %w", cfg.Pipeline.VocabularyPath, trainer.ErrCheckpointMismatch)
		}

		t := newTable(fmt.Sprintf("Predictions (epoch %d)", state.Epoch))
		t.AppendHeader(table.Row{"Text", "Label", "Probability"})
		for _, text := range args {
			class, probs := trainer.Predict(state.Params, vocab.Encode(text))
			t.AppendRow(table.Row{truncate(text, 60), state.Labels[class], fmt.Sprintf("%.3f", probs[class])})
		}
		t.Render()
		return nil
	},
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	rootCmd.AddCommand(predictCmd)
}
