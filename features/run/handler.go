package run

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"taxrag/apps/ingestor/internal/middleware"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	limit := DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(ctx, w, "INVALID_ARGUMENT", "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxListLimit)
	}

	slog.InfoContext(ctx, "listing ingestion runs", "limit", limit, "correlationId", correlationID)

	runs, err := h.repo.List(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to list runs", http.StatusInternalServerError)
		return
	}

	if runs == nil {
		runs = []Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": runs,
		"meta": map[string]int{"count": len(runs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
