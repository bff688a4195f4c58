package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"taxrag/apps/ingestor/internal/app"
	"taxrag/apps/ingestor/internal/config"
	"taxrag/apps/ingestor/internal/logger"
	"taxrag/apps/ingestor/internal/middleware"
	"taxrag/apps/ingestor/internal/worker"
)

var (
	instance *app.App
	cfg      *config.Config
	once     sync.Once
	initErr  error
)

func init() {
	slog.SetDefault(logger.New(os.Stdout, os.Getenv("LOG_LEVEL")))

	functions.HTTP("ProcessBatch", processBatch)
	functions.CloudEvent("ProcessBatchEvent", processBatchEvent)
}

// main is required by the Go Functions Framework.
func main() {}

// setup builds the pipeline once per instance. Dependencies stay open for
// the instance lifetime.
func setup() (*app.App, error) {
	once.Do(func() {
		cfg, initErr = config.Load()
		if initErr != nil {
			return
		}
		var deps *app.Dependencies
		deps, initErr = app.Bootstrap(context.Background(), cfg)
		if initErr != nil {
			return
		}
		instance, initErr = app.New(cfg, deps)
	})
	return instance, initErr
}

func processBatch(w http.ResponseWriter, r *http.Request) {
	a, err := setup()
	if err != nil {
		slog.Error("critical error during function initialization", "error", err)
		http.Error(w, "initialization failed", http.StatusInternalServerError)
		return
	}
	middleware.CorrelationID(http.HandlerFunc(app.NewIngestHandler(a.Pipeline, cfg.BatchLimit).Run)).ServeHTTP(w, r)
}

// processBatchEvent handles Cloud Scheduler ticks delivered through Pub/Sub.
func processBatchEvent(ctx context.Context, e cloudevents.Event) error {
	a, err := setup()
	if err != nil {
		slog.Error("critical error during function initialization", "error", err)
		return err
	}

	payload, err := decodeTrigger(e.Data())
	if err != nil {
		// Redelivery cannot fix a malformed message.
		slog.Error("dropping malformed trigger event", "error", err, "id", e.ID())
		return nil
	}

	limit := payload.Limit
	if limit <= 0 {
		limit = cfg.BatchLimit
	}
	if payload.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, payload.CorrelationID)
	}

	res, err := a.Pipeline.ProcessBatch(ctx, limit)
	if err != nil {
		return fmt.Errorf("process batch: %w", err)
	}
	slog.InfoContext(ctx, "batch complete", "run_id", res.RunID, "attempted", res.Attempted, "processed", res.Processed, "failed", res.Failed)
	return nil
}

type pubsubEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

// decodeTrigger reads the optional trigger payload from a Pub/Sub envelope.
// An empty message means defaults.
func decodeTrigger(data []byte) (worker.TriggerPayload, error) {
	var payload worker.TriggerPayload
	if len(data) == 0 {
		return payload, nil
	}

	var env pubsubEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return payload, fmt.Errorf("json.Unmarshal envelope: %w", err)
	}
	if len(env.Message.Data) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(env.Message.Data, &payload); err != nil {
		return payload, fmt.Errorf("json.Unmarshal payload: %w", err)
	}
	return payload, nil
}
