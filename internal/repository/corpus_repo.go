package repository

import (
	"context"
	"iter"

	"github.com/user/corpus-trainer/internal/entity"
)

// CorpusRepository is the append-only, fingerprint-keyed record collection.
type CorpusRepository interface {
	// Put stores rec unless its fingerprint is already present. It never
	// modifies a stored record.
	Put(ctx context.Context, rec *entity.CorpusRecord) (inserted bool, err error)
	// All returns the records present at call time in insertion order. The
	// sequence is lazy and may be ranged over more than once.
	All(ctx context.Context) (iter.Seq2[*entity.CorpusRecord, error], error)
	// ByFingerprint returns ErrRecordNotFound when absent.
	ByFingerprint(ctx context.Context, fingerprint string) (*entity.CorpusRecord, error)
	Len(ctx context.Context) (int, error)
}

// Collect drains a record sequence into a slice.
func Collect(seq iter.Seq2[*entity.CorpusRecord, error]) ([]*entity.CorpusRecord, error) {
	var out []*entity.CorpusRecord
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
