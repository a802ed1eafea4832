package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/corpus-trainer/internal/adapter/filestore"
	"github.com/user/corpus-trainer/internal/delivery/http/handler"
	"github.com/user/corpus-trainer/internal/delivery/http/response"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/usecase"
	"github.com/user/corpus-trainer/pkg/metrics"
)

func newServer(t *testing.T) (*httptest.Server, *usecase.Progress, *filestore.CorpusStore) {
	t.Helper()
	metrics.Init()
	store, err := filestore.OpenCorpusStore(filepath.Join(t.TempDir(), "corpus.jsonl"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	progress := usecase.NewProgress()
	srv := httptest.NewServer(New(handler.NewHandler(progress, store)))
	t.Cleanup(srv.Close)
	return srv, progress, store
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if into != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _, _ := newServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusReflectsProgress(t *testing.T) {
	srv, progress, _ := newServer(t)

	var idle response.RunStatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &idle))
	assert.Equal(t, "idle", idle.Stage)
	assert.Nil(t, idle.Trainer)

	progress.SetStage("train")
	progress.SetTrainerState("training")
	require.NoError(t, progress.Emit(context.Background(), entity.EpochMetrics{Epoch: 4, TrainLoss: 0.4, ValScore: 0.8}))

	var st response.RunStatusResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/status", &st))
	assert.Equal(t, "train", st.Stage)
	require.NotNil(t, st.Trainer)
	assert.Equal(t, "training", st.Trainer.State)
	assert.Equal(t, 4, st.Trainer.Epoch)
	assert.Equal(t, 0.8, st.Trainer.ValScore)
}

func TestRecordLookup(t *testing.T) {
	srv, _, store := newServer(t)
	rec := &entity.CorpusRecord{
		Fingerprint: "abc123",
		SourceURL:   "https://reviews.test/app",
		RawText:     "Great app",
		Fields:      map[string]string{"content": "Great app"},
		InsertedAt:  time.Now().UTC(),
	}
	inserted, err := store.Put(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)

	var got response.RecordResponse
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/records/abc123", &got))
	assert.Equal(t, "Great app", got.RawText)
	assert.Equal(t, rec.SourceURL, got.SourceURL)

	var missing map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/records/nope", &missing))
	assert.Equal(t, "Record not found", missing["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newServer(t)
	getJSON(t, srv.URL+"/api/health", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
