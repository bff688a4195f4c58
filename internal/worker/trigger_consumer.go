package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"

	"taxrag/apps/ingestor/internal/middleware"
)

type BatchRunner interface {
	ProcessBatch(ctx context.Context, limit int) (BatchResult, error)
}

// TriggerConsumer runs one batch per ingest.trigger message.
type TriggerConsumer struct {
	runner       BatchRunner
	defaultLimit int
}

func NewTriggerConsumer(r BatchRunner, defaultLimit int) *TriggerConsumer {
	return &TriggerConsumer{
		runner:       r,
		defaultLimit: defaultLimit,
	}
}

func (h *TriggerConsumer) HandleMessage(m *nsq.Message) error {
	var payload TriggerPayload
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &payload); err != nil {
			// Poison Pill: Invalid JSON, don't retry
			slog.Error("poison pill: invalid json", "error", err)
			return nil
		}
	}

	ctx := context.Background()
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = h.defaultLimit
	}

	res, err := h.runner.ProcessBatch(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "triggered batch failed", "error", err, "run_id", res.RunID)
		return err // Retry
	}

	slog.InfoContext(ctx, "triggered batch finished",
		"run_id", res.RunID,
		"attempted", res.Attempted,
		"processed", res.Processed,
		"failed", res.Failed,
	)
	return nil
}
