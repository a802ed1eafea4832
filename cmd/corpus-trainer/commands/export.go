package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/corpus-trainer/internal/adapter/filestore"
	"github.com/user/corpus-trainer/pkg/utils"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export --out <file.csv>",
	Short: "Writes the corpus as CSV, one column per extracted field.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		seq, err := st.corpus.All(ctx)
		if err != nil {
			return err
		}
		fields := make([]string, 0, len(cfg.Extract.Fields))
		for _, f := range cfg.Extract.Fields {
			fields = append(fields, f.Name)
		}

		if err := utils.EnsureDir(exportOut); err != nil {
			return err
		}
		out, err := os.Create(exportOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		rows, err := filestore.ExportCSV(out, seq, fields)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("export corpus: %w", err)
		}
		fmt.Printf("exported %d records to %s\n", rows, exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "corpus.csv", "CSV file to write")
	rootCmd.AddCommand(exportCmd)
}
