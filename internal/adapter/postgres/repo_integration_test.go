//go:build integration

package postgres

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/utils"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	testcontainers.Logger = log.New(io.Discard, "", 0)

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "corpus",
				"POSTGRES_PASSWORD": "corpus",
				"POSTGRES_DB":       "corpus",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			t.Fatal(err)
		}
	})

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://corpus:corpus@%s:%s/corpus?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func TestPostgresRepositories(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()

	t.Run("corpus", func(t *testing.T) {
		repo := NewCorpusRepo(pool)
		now := time.Now().UTC().Truncate(time.Microsecond)
		texts := []string{"great app", "crashes daily", "works fine"}
		for i, text := range texts {
			label := ""
			if i%2 == 0 {
				label = "pos"
			}
			inserted, err := repo.Put(ctx, &entity.CorpusRecord{
				Fingerprint: utils.Fingerprint(text),
				SourceURL:   "https://reviews.test/app",
				RawText:     text,
				Fields:      map[string]string{"content": text},
				Label:       label,
				InsertedAt:  now,
			})
			require.NoError(t, err)
			assert.True(t, inserted)
		}

		inserted, err := repo.Put(ctx, &entity.CorpusRecord{
			Fingerprint: utils.Fingerprint("GREAT app"),
			SourceURL:   "https://reviews.test/other",
			RawText:     "GREAT app",
			InsertedAt:  now,
		})
		require.NoError(t, err)
		assert.False(t, inserted)

		seq, err := repo.All(ctx)
		require.NoError(t, err)
		_, err = repo.Put(ctx, &entity.CorpusRecord{Fingerprint: utils.Fingerprint("late"), RawText: "late", InsertedAt: now})
		require.NoError(t, err)

		for pass := 0; pass < 2; pass++ {
			got, err := repository.Collect(seq)
			require.NoError(t, err)
			require.Len(t, got, 3)
			for i, rec := range got {
				assert.Equal(t, texts[i], rec.RawText)
			}
			assert.Equal(t, "pos", got[0].Label)
			assert.Empty(t, got[1].Label)
		}

		rec, err := repo.ByFingerprint(ctx, utils.Fingerprint("great app"))
		require.NoError(t, err)
		assert.Equal(t, "https://reviews.test/app", rec.SourceURL)
		assert.Equal(t, map[string]string{"content": "great app"}, rec.Fields)
		assert.True(t, now.Equal(rec.InsertedAt))

		_, err = repo.ByFingerprint(ctx, "missing")
		assert.ErrorIs(t, err, repository.ErrRecordNotFound)

		n, err := repo.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("corpus snapshot hides open inserts", func(t *testing.T) {
		repo := NewCorpusRepo(pool)
		now := time.Now().UTC().Truncate(time.Microsecond)
		before, err := repo.Len(ctx)
		require.NoError(t, err)

		tx, err := pool.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback(ctx)
		_, err = tx.Exec(ctx, `
			INSERT INTO corpus_records (fingerprint, source_url, raw_text, inserted_at)
			VALUES ($1, '', 'slow writer', $2);`, utils.Fingerprint("slow writer"), now)
		require.NoError(t, err)

		inserted, err := repo.Put(ctx, &entity.CorpusRecord{Fingerprint: utils.Fingerprint("fast writer"), RawText: "fast writer", InsertedAt: now})
		require.NoError(t, err)
		require.True(t, inserted)

		seq, err := repo.All(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))

		got, err := repository.Collect(seq)
		require.NoError(t, err)
		require.Len(t, got, before+1)
		assert.Equal(t, "fast writer", got[len(got)-1].RawText)
		for _, rec := range got {
			assert.NotEqual(t, "slow writer", rec.RawText)
		}

		n, err := repo.Len(ctx)
		require.NoError(t, err)
		assert.Equal(t, before+2, n)
	})

	t.Run("fetch tasks", func(t *testing.T) {
		repo := NewFetchTaskRepo(pool)
		save := func(url string, status entity.FetchStatus) {
			task := entity.NewFetchTask(url)
			task.Status = status
			task.Attempts = 3
			require.NoError(t, repo.Save(ctx, task))
		}
		save("https://reviews.test/a", entity.FetchFailed)
		save("https://reviews.test/b", entity.FetchFailed)
		save("https://reviews.test/a", entity.FetchSucceeded)

		failed, err := repo.FindFailed(ctx, 0)
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, "https://reviews.test/b", failed[0].URL)
		assert.Equal(t, entity.FetchFailed, failed[0].Status)
		assert.Equal(t, 3, failed[0].Attempts)
	})
}
