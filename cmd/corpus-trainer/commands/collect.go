package commands

import "github.com/spf13/cobra"

var collectOpts collectOptions

var collectCmd = &cobra.Command{
	Use:   "collect [--force] [--retry-failed]",
	Short: "Fetches the target pages and adds extracted records to the corpus.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		startServer()

		summary, err := collect(ctx, st, collectOpts)
		if summary != nil {
			printCollectSummary(summary)
		}
		progress.SetStage("done")
		return err
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectOpts.force, "force", false, "collect URLs even if they were collected within fetch.revisit_after")
	collectCmd.Flags().BoolVar(&collectOpts.retryFailed, "retry-failed", false, "collect only URLs whose last fetch failed")
	rootCmd.AddCommand(collectCmd)
}
