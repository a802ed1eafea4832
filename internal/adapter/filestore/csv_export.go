package filestore

import (
	"encoding/csv"
	"io"
	"iter"
	"slices"
	"time"

	"github.com/user/corpus-trainer/internal/entity"
)

var baseColumns = []string{"fingerprint", "source_url", "label", "inserted_at", "raw_text"}

// ExportCSV writes records as CSV with the base columns followed by fields,
// one column per name. It returns the number of rows written.
func ExportCSV(w io.Writer, records iter.Seq2[*entity.CorpusRecord, error], fields []string) (int, error) {
	fields = slices.Clone(fields)
	slices.Sort(fields)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(slices.Clone(baseColumns), fields...)); err != nil {
		return 0, err
	}

	rows := 0
	for rec, err := range records {
		if err != nil {
			return rows, err
		}
		row := []string{
			rec.Fingerprint,
			rec.SourceURL,
			rec.Label,
			rec.InsertedAt.Format(time.RFC3339),
			rec.RawText,
		}
		for _, name := range fields {
			row = append(row, rec.Fields[name])
		}
		if err := cw.Write(row); err != nil {
			return rows, err
		}
		rows++
	}
	cw.Flush()
	return rows, cw.Error()
}
