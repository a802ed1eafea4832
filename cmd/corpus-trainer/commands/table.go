package commands

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/user/corpus-trainer/internal/trainer"
	"github.com/user/corpus-trainer/internal/usecase"
)

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(title)
	return t
}

func printCollectSummary(s *usecase.CollectSummary) {
	t := newTable("Collection")
	t.AppendHeader(table.Row{"URLs", "Succeeded", "Failed", "Skipped", "Inserted", "Duplicates", "Extract errors"})
	t.AppendRow(table.Row{s.Total, s.Succeeded, s.Failed, s.Skipped, s.Inserted, s.Duplicates, s.ExtractErrors})
	t.Render()

	if len(s.Failures) == 0 {
		return
	}
	f := newTable("Failed URLs")
	f.AppendHeader(table.Row{"URL", "Attempts", "Kind", "Status", "Error"})
	for _, task := range s.Failures {
		f.AppendRow(table.Row{task.URL, task.Attempts, task.ErrorKind, task.HTTPStatusCode, task.LastError})
	}
	f.Render()
}

func printTrainResult(r *trainer.Result) {
	t := newTable("Training")
	t.AppendHeader(table.Row{"Run", "State", "Reason", "Epochs", "Best score", "Best epoch", "Resumed"})
	t.AppendRow(table.Row{r.RunID, r.State.String(), r.StopReason, r.Epoch, fmt.Sprintf("%.4f", r.BestScore), r.BestEpoch, r.Resumed})
	t.Render()
}
