package worker

import (
	"context"

	"taxrag/apps/ingestor/internal/middleware"
)

// ItemResultEvent is published on config.TopicIngestResult once per item.
type ItemResultEvent struct {
	RunID         string `json:"run_id"`
	URL           string `json:"url"`
	Source        string `json:"source,omitempty"`
	Status        Status `json:"status"`
	ErrorKind     string `json:"error_kind,omitempty"`
	Error         string `json:"error,omitempty"`
	Chunks        int    `json:"chunks"`
	Points        int    `json:"points"`
	DurationMS    int64  `json:"duration_ms"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func newItemResultEvent(ctx context.Context, o Outcome) ItemResultEvent {
	return ItemResultEvent{
		RunID:         middleware.GetRunID(ctx),
		URL:           o.URL,
		Source:        o.Source,
		Status:        o.Status,
		ErrorKind:     string(o.Kind),
		Error:         o.ErrorMessage(),
		Chunks:        o.Chunks,
		Points:        o.Points,
		DurationMS:    o.Duration.Milliseconds(),
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
}

// TriggerPayload is the body of a config.TopicIngestTrigger message. An empty
// body or a zero Limit means "use the configured batch limit".
type TriggerPayload struct {
	Limit         int    `json:"limit,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
