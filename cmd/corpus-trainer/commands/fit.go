package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fits the vocabulary over the corpus and writes the vocabulary artifact.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStores(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		vocab, records, err := fitVocabulary(cmd.Context(), st)
		if err != nil {
			return err
		}
		fmt.Printf("vocabulary: %d tokens, %d labels from %d records -> %s\n",
			vocab.Size(), len(vocab.Labels), records, cfg.Pipeline.VocabularyPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fitCmd)
}
