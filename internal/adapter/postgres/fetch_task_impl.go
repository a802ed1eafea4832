package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/corpus-trainer/internal/entity"
)

// FetchTaskRepoImpl provides a concrete implementation for the FetchTaskRepository interface using PostgreSQL.
type FetchTaskRepoImpl struct {
	db *pgxpool.Pool
}

// NewFetchTaskRepo creates a new instance of FetchTaskRepoImpl.
func NewFetchTaskRepo(db *pgxpool.Pool) *FetchTaskRepoImpl {
	return &FetchTaskRepoImpl{db: db}
}

// Save creates or updates the task row for a URL.
// It increments run_count on conflict.
func (r *FetchTaskRepoImpl) Save(ctx context.Context, task *entity.FetchTask) error {
	query := `
		INSERT INTO fetch_tasks (url, status, attempts, last_error, error_kind, http_status_code, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (url) DO UPDATE SET
			status = EXCLUDED.status,
			attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error,
			error_kind = EXCLUDED.error_kind,
			http_status_code = EXCLUDED.http_status_code,
			run_count = fetch_tasks.run_count + 1,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := r.db.Exec(ctx, query,
		task.URL,
		string(task.Status),
		task.Attempts,
		task.LastError,
		task.ErrorKind,
		task.HTTPStatusCode,
		task.UpdatedAt,
	)
	return err
}

// FindFailed retrieves a batch of tasks whose last run failed.
func (r *FetchTaskRepoImpl) FindFailed(ctx context.Context, limit int) ([]*entity.FetchTask, error) {
	if limit <= 0 {
		limit = 10000
	}
	query := `
		SELECT url, status, attempts, last_error, error_kind, http_status_code, updated_at
		FROM fetch_tasks
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2;
	`
	rows, err := r.db.Query(ctx, query, string(entity.FetchFailed), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*entity.FetchTask
	for rows.Next() {
		var (
			t      entity.FetchTask
			status string
		)
		if err := rows.Scan(
			&t.URL,
			&status,
			&t.Attempts,
			&t.LastError,
			&t.ErrorKind,
			&t.HTTPStatusCode,
			&t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		t.Status = entity.FetchStatus(status)
		tasks = append(tasks, &t)
	}

	return tasks, rows.Err()
}
