package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

type key int

const (
	CorrelationKey key = iota
	runKey
)

const HeaderCorrelationID = "X-Correlation-ID"

// CorrelationID tags each request with an id taken from the X-Correlation-ID
// header or freshly generated, and echoes it back on the response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderCorrelationID)
		if id == "" {
			id = uuid.New().String()
		}

		ctx := WithCorrelationID(r.Context(), id)
		w.Header().Set(HeaderCorrelationID, id)

		slog.InfoContext(ctx, "request received", "method", r.Method, "path", r.URL.Path) // #nosec G706 -- r.URL.Path is parsed by Go's net/http
		start := time.Now()

		next.ServeHTTP(w, r.WithContext(ctx))

		slog.InfoContext(ctx, "request completed", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start)) // #nosec G706
	})
}

// GetCorrelationID returns the correlation id carried by ctx, or "unknown".
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationKey).(string); ok {
		return id
	}
	return "unknown"
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationKey, id)
}

// EnsureCorrelationID attaches a new id when ctx has none, so background
// invocations (CLI, NSQ, cloud function) log like HTTP requests do.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if id, ok := ctx.Value(CorrelationKey).(string); ok && id != "" {
		return ctx
	}
	return WithCorrelationID(ctx, uuid.New().String())
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey, id)
}

func GetRunID(ctx context.Context) string {
	id, _ := ctx.Value(runKey).(string)
	return id
}
