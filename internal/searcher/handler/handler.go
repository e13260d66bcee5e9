// Package handler serves the read side of the HTTP API: search, entry
// lookup, recent entries, engine statistics and the result cache.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wikindex/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/wikindex/pkg/metrics"
)

// Engine is the part of *indexer.Engine the read API uses.
type Engine interface {
	Search(ctx context.Context, query string, limit int) (*executor.SearchResult, error)
	GetEntry(ctx context.Context, id string) (indexer.Entry, error)
	GetLatest(ctx context.Context, limit int, window time.Duration) ([]indexer.Entry, error)
	Stats(ctx context.Context) (indexer.Stats, error)
}

type Handler struct {
	engine  Engine
	cache   *cache.QueryCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New returns a handler over engine. queryCache and m may be nil.
func New(engine Engine, queryCache *cache.QueryCache, m *metrics.Metrics) *Handler {
	return &Handler{
		engine:  engine,
		cache:   queryCache,
		metrics: m,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register adds the read routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/entries/{id...}", h.GetEntry)
	mux.HandleFunc("GET /api/v1/latest", h.Latest)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	query := r.URL.Query().Get("q")
	limit, err := parseLimit(r)
	if err != nil {
		h.writeAppError(w, r, "invalid limit", err)
		return
	}

	var result *executor.SearchResult
	cacheStatus := "disabled"
	if h.cache != nil {
		var hit bool
		result, hit, err = h.cache.GetOrCompute(ctx, query, limit, func() (*executor.SearchResult, error) {
			return h.engine.Search(ctx, query, limit)
		})
		cacheStatus = "miss"
		if hit {
			cacheStatus = "hit"
		}
	} else {
		result, err = h.engine.Search(ctx, query, limit)
	}
	if err != nil {
		h.writeAppError(w, r, "search failed", err)
		return
	}

	latency := time.Since(start)
	if h.metrics != nil {
		h.metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
	}
	log.Info("search completed",
		"query", query,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache", cacheStatus,
		"latency_ms", latency.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.engine.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeAppError(w, r, "get entry failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

// Latest lists recently modified entries. window is a Go duration such as
// "720h"; without it the configured number of months is used.
func (h *Handler) Latest(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeAppError(w, r, "invalid limit", err)
		return
	}
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		window, err = time.ParseDuration(raw)
		if err != nil || window <= 0 {
			h.writeAppError(w, r, "invalid window", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest,
				"window %q must be a positive duration such as 720h", raw))
			return
		}
	}
	entries, err := h.engine.GetLatest(r.Context(), limit, window)
	if err != nil {
		h.writeAppError(w, r, "latest entries failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.Stats(r.Context())
	if err != nil {
		h.writeAppError(w, r, "stats failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"errors":   stats.Errors,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  stats.Breaker,
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Flush(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusBadGateway, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer")
	}
	return limit, nil
}

// writeAppError reports err with its mapped status. Server errors are
// logged and replaced by msg; an *AppError shows its own message.
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
