package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/user/corpus-trainer/internal/delivery/http/response"
	"github.com/user/corpus-trainer/internal/entity"
	"github.com/user/corpus-trainer/internal/repository"
)

// StatusProvider reports pipeline progress.
type StatusProvider interface {
	Snapshot() entity.RunStatus
}

type Handler struct {
	status StatusProvider
	corpus repository.CorpusRepository
}

// NewHandler builds the status handlers. corpus may be nil, which disables
// record lookups.
func NewHandler(status StatusProvider, corpus repository.CorpusRepository) *Handler {
	return &Handler{
		status: status,
		corpus: corpus,
	}
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	st := h.status.Snapshot()
	resp := response.RunStatusResponse{
		Stage: st.Stage,
		URLs: response.URLCounts{
			Total:     st.URLsTotal,
			Succeeded: st.URLsSucceeded,
			Failed:    st.URLsFailed,
			Skipped:   st.URLsSkipped,
		},
		Records: response.RecordCounts{
			Inserted:      st.Inserted,
			Duplicates:    st.Duplicates,
			ExtractErrors: st.ExtractErrors,
		},
		UpdatedAt: st.UpdatedAt,
	}
	if st.TrainerState != "" {
		resp.Trainer = &response.TrainerStatus{
			State:     st.TrainerState,
			Epoch:     st.Epoch,
			TrainLoss: st.TrainLoss,
			ValScore:  st.ValScore,
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	if h.corpus == nil {
		h.writeJSONError(w, "Corpus store is not available", http.StatusServiceUnavailable)
		return
	}
	fingerprint := chi.URLParam(r, "fingerprint")
	if fingerprint == "" {
		h.writeJSONError(w, "Fingerprint is required", http.StatusBadRequest)
		return
	}

	rec, err := h.corpus.ByFingerprint(r.Context(), fingerprint)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			h.writeJSONError(w, "Record not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to look up record", "fingerprint", fingerprint, "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.RecordResponse{
		Fingerprint: rec.Fingerprint,
		SourceURL:   rec.SourceURL,
		RawText:     rec.RawText,
		Fields:      rec.Fields,
		Label:       rec.Label,
		InsertedAt:  rec.InsertedAt,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
