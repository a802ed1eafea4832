package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
)

// allPageSize bounds the rows fetched per query while streaming All.
const allPageSize = 500

// CorpusRepoImpl provides a concrete implementation for the CorpusRepository interface using PostgreSQL.
type CorpusRepoImpl struct {
	db *pgxpool.Pool
}

// NewCorpusRepo creates a new instance of CorpusRepoImpl.
func NewCorpusRepo(db *pgxpool.Pool) *CorpusRepoImpl {
	return &CorpusRepoImpl{db: db}
}

// Put inserts the record; the unique fingerprint makes a repeated insert a no-op.
func (r *CorpusRepoImpl) Put(ctx context.Context, rec *entity.CorpusRecord) (bool, error) {
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return false, err
	}

	query := `
		INSERT INTO corpus_records (fingerprint, source_url, raw_text, fields, label, inserted_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (fingerprint) DO NOTHING
		RETURNING seq;
	`
	var seq int64
	err = r.db.QueryRow(ctx, query,
		rec.Fingerprint,
		rec.SourceURL,
		rec.RawText,
		fieldsJSON,
		rec.Label,
		rec.InsertedAt,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// All pins a transaction snapshot and the highest visible sequence number at
// call time, then pages through the rows that snapshot can see. Rows from
// transactions still open at call time stay hidden even if they commit with a
// lower seq before the iterator reaches them.
func (r *CorpusRepoImpl) All(ctx context.Context) (iter.Seq2[*entity.CorpusRecord, error], error) {
	var (
		snapshot string
		maxSeq   int64
	)
	err := r.db.QueryRow(ctx, `SELECT pg_current_snapshot()::text, COALESCE(MAX(seq), 0) FROM corpus_records;`).Scan(&snapshot, &maxSeq)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT seq, fingerprint, source_url, raw_text, fields, COALESCE(label, ''), inserted_at
		FROM corpus_records
		WHERE seq > $1 AND seq <= $2
			AND pg_visible_in_snapshot(insert_xid, $4::text::pg_snapshot)
		ORDER BY seq ASC
		LIMIT $3;
	`
	return func(yield func(*entity.CorpusRecord, error) bool) {
		var after int64
		for after < maxSeq {
			rows, err := r.db.Query(ctx, query, after, maxSeq, allPageSize, snapshot)
			if err != nil {
				yield(nil, err)
				return
			}
			page, last, err := scanPage(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(page) == 0 {
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			after = last
		}
	}, nil
}

func scanPage(rows pgx.Rows) ([]*entity.CorpusRecord, int64, error) {
	defer rows.Close()
	var (
		page []*entity.CorpusRecord
		last int64
	)
	for rows.Next() {
		var (
			rec        entity.CorpusRecord
			fieldsJSON []byte
		)
		if err := rows.Scan(&last, &rec.Fingerprint, &rec.SourceURL, &rec.RawText, &fieldsJSON, &rec.Label, &rec.InsertedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
			return nil, 0, err
		}
		page = append(page, &rec)
	}
	return page, last, rows.Err()
}

// ByFingerprint retrieves a record by its content fingerprint.
func (r *CorpusRepoImpl) ByFingerprint(ctx context.Context, fingerprint string) (*entity.CorpusRecord, error) {
	query := `
		SELECT fingerprint, source_url, raw_text, fields, COALESCE(label, ''), inserted_at
		FROM corpus_records
		WHERE fingerprint = $1;
	`
	var (
		rec        entity.CorpusRecord
		fieldsJSON []byte
	)
	err := r.db.QueryRow(ctx, query, fingerprint).Scan(
		&rec.Fingerprint,
		&rec.SourceURL,
		&rec.RawText,
		&fieldsJSON,
		&rec.Label,
		&rec.InsertedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *CorpusRepoImpl) Len(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM corpus_records;`).Scan(&n)
	return n, err
}
