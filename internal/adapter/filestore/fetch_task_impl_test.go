package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/corpus-trainer/internal/entity"
)

func TestFetchTaskLogFindFailedUsesLatestState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks", "fetch_tasks.jsonl")
	log := NewFetchTaskLog(path)

	failed, err := log.FindFailed(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, failed)

	save := func(url string, status entity.FetchStatus) {
		task := entity.NewFetchTask(url)
		task.Status = status
		require.NoError(t, log.Save(ctx, task))
	}
	save("https://reviews.test/a", entity.FetchFailed)
	save("https://reviews.test/b", entity.FetchFailed)
	save("https://reviews.test/c", entity.FetchSucceeded)
	save("https://reviews.test/a", entity.FetchSucceeded)
	save("https://reviews.test/d", entity.FetchFailed)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"url\":\"https://reviews.test/torn\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	failed, err = log.FindFailed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "https://reviews.test/b", failed[0].URL)
	assert.Equal(t, "https://reviews.test/d", failed[1].URL)

	limited, err := log.FindFailed(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
