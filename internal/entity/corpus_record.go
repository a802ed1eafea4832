package entity

import "time"

// CorpusRecord mirrors one line of the corpus file and one row of the
// `corpus_records` PostgreSQL table.
type CorpusRecord struct {
	Fingerprint string            `json:"fingerprint"`
	SourceURL   string            `json:"source_url"`
	RawText     string            `json:"raw_text"`
	Fields      map[string]string `json:"fields"`
	Label       string            `json:"label,omitempty"`
	InsertedAt  time.Time         `json:"inserted_at"`
}

// HasLabel reports whether the record carries a class label.
func (r *CorpusRecord) HasLabel() bool {
	return r.Label != ""
}
