// Package handler serves the write side of the HTTP API. Writes are either
// applied to the local engine before the response is sent, or queued on
// Kafka for an index consumer to apply.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/logger"
)

const maxRequestBytes = 16 << 20

// Writer applies entry writes directly.
type Writer interface {
	AddEntry(ctx context.Context, doc indexer.Document) error
	DeleteEntry(ctx context.Context, id string) error
}

// Queue hands entry writes to the ingestion topic.
type Queue interface {
	Upsert(ctx context.Context, id string, req *ingestion.EntryRequest) (*ingestion.EntryResponse, error)
	Delete(ctx context.Context, id string) (*ingestion.EntryResponse, error)
}

type Handler struct {
	writer Writer
	queue  Queue
	logger *slog.Logger
}

// New returns a handler that queues writes when queue is non-nil and
// applies them through writer otherwise.
func New(writer Writer, queue Queue) *Handler {
	return &Handler{
		writer: writer,
		queue:  queue,
		logger: slog.Default().With("component", "ingestion-handler"),
	}
}

// Register adds the write routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/v1/entries/{id...}", h.PutEntry)
	mux.HandleFunc("DELETE /api/v1/entries/{id...}", h.DeleteEntry)
}

func (h *Handler) PutEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	id := r.PathValue("id")

	var req ingestion.EntryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		h.writeAppError(w, r, "reading body failed", decodeError(err))
		return
	}
	if err := validator.ValidateEntryRequest(id, &req); err != nil {
		h.writeValidationError(w, err)
		return
	}

	if h.queue != nil {
		resp, err := h.queue.Upsert(ctx, id, &req)
		if err != nil {
			log.Error("queueing entry failed", "doc_id", id, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "queueing entry failed")
			return
		}
		h.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	doc := indexer.Document{
		ID:    id,
		Title: req.Title,
		Body:  req.Body,
		Tags:  req.Tags,
		Hash:  req.Hash,
	}
	if req.MTime != nil {
		doc.ModifiedAt = *req.MTime
	}
	if err := h.writer.AddEntry(ctx, doc); err != nil {
		h.writeAppError(w, r, "storing entry failed", err)
		return
	}
	log.Info("entry stored", "doc_id", id)
	h.writeJSON(w, http.StatusOK, ingestion.EntryResponse{ID: id, Status: ingestion.StatusIndexed})
}

func (h *Handler) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if h.queue != nil {
		resp, err := h.queue.Delete(ctx, id)
		if err != nil {
			logger.FromContext(ctx).Error("queueing delete failed", "doc_id", id, "error", err)
			h.writeError(w, http.StatusServiceUnavailable, "queueing delete failed")
			return
		}
		h.writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if err := h.writer.DeleteEntry(ctx, id); err != nil {
		h.writeAppError(w, r, "deleting entry failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ingestion.EntryResponse{ID: id, Status: ingestion.StatusDeleted})
}

func (h *Handler) writeValidationError(w http.ResponseWriter, err error) {
	var validationErr *validator.ValidationError
	if errors.As(err, &validationErr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": validationErr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge,
			"request body larger than %d bytes", tooLarge.Limit)
	}
	return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body")
}

func (h *Handler) writeAppError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error(msg, "path", r.URL.Path, "error", err)
		h.writeError(w, status, msg)
		return
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		h.writeError(w, status, appErr.Message)
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
