package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var runOpts collectOptions

var runCmd = &cobra.Command{
	Use:   "run [--force]",
	Short: "Collects, fits the vocabulary and trains in one go.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		startServer()

		summary, err := collect(ctx, st, runOpts)
		if summary != nil {
			printCollectSummary(summary)
		}
		if err != nil {
			return err
		}
		if summary.Succeeded == 0 {
			slog.Warn("No page was fetched successfully, training on the existing corpus")
		}

		vocab, _, err := fitVocabulary(ctx, st)
		if err != nil {
			return err
		}
		res, err := train(ctx, st, vocab)
		if res != nil {
			printTrainResult(res)
		}
		progress.SetStage("done")
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOpts.force, "force", false, "collect URLs even if they were collected within fetch.revisit_after")
	rootCmd.AddCommand(runCmd)
}
