package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/corpus-trainer/internal/textproc"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Trains the classifier on the corpus, resuming from the last checkpoint.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		vocab, err := textproc.LoadVocabulary(cfg.Pipeline.VocabularyPath)
		if err != nil {
			return fmt.Errorf("%w (run fit first)", err)
		}
		st, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		startServer()

		res, err := train(ctx, st, vocab)
		if res != nil {
			printTrainResult(res)
		}
		progress.SetStage("done")
		return err
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
}
