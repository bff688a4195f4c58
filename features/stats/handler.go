package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"taxrag/apps/ingestor/internal/middleware"
	"taxrag/apps/ingestor/internal/worker"
)

type QueueCounter interface {
	CountByStatus(ctx context.Context) (map[worker.Status]int, error)
}

type RunCounter interface {
	Count(ctx context.Context) (int, error)
}

type VectorStore interface {
	Count(ctx context.Context) (int, error)
}

type Handler struct {
	queue       QueueCounter
	runs        RunCounter
	vectorStore VectorStore
}

// NewHandler builds the stats handler. runs may be nil when the deployment
// keeps no run history.
func NewHandler(q QueueCounter, r RunCounter, v VectorStore) *Handler {
	return &Handler{queue: q, runs: r, vectorStore: v}
}

type StatsResponse struct {
	Pending   int  `json:"pending"`
	Processed int  `json:"processed"`
	Errored   int  `json:"error"`
	Total     int  `json:"total"`
	Points    int  `json:"points"`
	Runs      *int `json:"runs,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	counts, err := h.queue.CountByStatus(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count work items", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count work items", http.StatusInternalServerError)
		return
	}

	points, err := h.vectorStore.Count(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count points", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count points", http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{
		Pending:   counts[worker.StatusPending],
		Processed: counts[worker.StatusProcessed],
		Errored:   counts[worker.StatusError],
		Points:    points,
	}
	resp.Total = resp.Pending + resp.Processed + resp.Errored

	if h.runs != nil {
		n, err := h.runs.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count runs", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count runs", http.StatusInternalServerError)
			return
		}
		resp.Runs = &n
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
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
