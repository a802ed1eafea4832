package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
	"github.com/user/corpus-trainer/pkg/utils"
)

func record(text, label string) *entity.CorpusRecord {
	return &entity.CorpusRecord{
		Fingerprint: utils.Fingerprint(text),
		SourceURL:   "https://reviews.test/" + label,
		RawText:     text,
		Fields:      map[string]string{"content": text},
		Label:       label,
		InsertedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func openStore(t *testing.T, path string) *CorpusStore {
	t.Helper()
	s, err := OpenCorpusStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCorpusStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "corpus.jsonl"))

	rec := record("great app", "pos")
	inserted, err := s.Put(ctx, rec)
	require.NoError(t, err)
	assert.True(t, inserted)

	changed := record("great app", "neg")
	inserted, err = s.Put(ctx, changed)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.ByFingerprint(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "pos", got.Label)

	n, err := s.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ByFingerprint(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrRecordNotFound)
}

func TestCorpusStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "corpus.jsonl"))
	rec := record("great app", "pos")
	_, err := s.Put(ctx, rec)
	require.NoError(t, err)

	rec.Fields["content"] = "mutated"
	got, err := s.ByFingerprint(ctx, rec.Fingerprint)
	require.NoError(t, err)
	got.Fields["content"] = "mutated again"

	again, err := s.ByFingerprint(ctx, rec.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, "great app", again.Fields["content"])
}

func TestCorpusStoreAllIsRestartableSnapshot(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "corpus.jsonl"))
	want := []*entity.CorpusRecord{record("one", "a"), record("two", "b"), record("three", "a")}
	for _, rec := range want {
		_, err := s.Put(ctx, rec)
		require.NoError(t, err)
	}

	seq, err := s.All(ctx)
	require.NoError(t, err)
	_, err = s.Put(ctx, record("four", "b"))
	require.NoError(t, err)

	for pass := 0; pass < 2; pass++ {
		got, err := repository.Collect(seq)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("pass %d: records mismatch (-want +got):\n%s", pass, diff)
		}
	}

	for rec, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, "one", rec.RawText)
		break
	}
}

func TestCorpusStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	s, err := OpenCorpusStore(path)
	require.NoError(t, err)
	_, err = s.Put(ctx, record("one", "a"))
	require.NoError(t, err)
	_, err = s.Put(ctx, record("two", "b"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := openStore(t, path)
	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inserted, err := reopened.Put(ctx, record("one", "a"))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestCorpusStoreDropsTornTail(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	s, err := OpenCorpusStore(path)
	require.NoError(t, err)
	_, err = s.Put(ctx, record("one", "a"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"fingerprint":"abc","raw_te`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened := openStore(t, path)
	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = reopened.Put(ctx, record("two", "b"))
	require.NoError(t, err)
	seq, err := reopened.All(ctx)
	require.NoError(t, err)
	got, err := repository.Collect(seq)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[1].RawText)
}

func TestCorpusStoreRejectsCorruptMiddle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"fingerprint\":\"x\"}\n"), 0o644))
	_, err := OpenCorpusStore(path)
	assert.ErrorContains(t, err, "corrupt record")
}

func TestCorpusStorePutRequiresFingerprint(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "corpus.jsonl"))
	_, err := s.Put(context.Background(), &entity.CorpusRecord{RawText: "x"})
	assert.Error(t, err)
}
