package worker

import (
	"context"
	"time"

	"taxrag/apps/ingestor/internal/extract"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusError     Status = "error"
)

// StatusNames maps the three logical statuses onto the strings a deployment
// stores. Stores encode on write and decode on read.
type StatusNames struct {
	Pending   string
	Processed string
	Error     string
}

func DefaultStatusNames() StatusNames {
	return StatusNames{
		Pending:   string(StatusPending),
		Processed: string(StatusProcessed),
		Error:     string(StatusError),
	}
}

func (n StatusNames) Encode(s Status) string {
	switch s {
	case StatusPending:
		return n.Pending
	case StatusProcessed:
		return n.Processed
	case StatusError:
		return n.Error
	}
	return string(s)
}

func (n StatusNames) Decode(v string) (Status, bool) {
	switch v {
	case n.Pending:
		return StatusPending, true
	case n.Processed:
		return StatusProcessed, true
	case n.Error:
		return StatusError, true
	}
	return "", false
}

// WorkItem is one URL tracked through the ingestion lifecycle.
type WorkItem struct {
	URL       string    `json:"url"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type PointPayload struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	URL    string `json:"url"`
}

// EmbeddingPoint is the persisted artifact: one vector per chunk.
type EmbeddingPoint struct {
	ID      string
	Vector  []float32
	Payload PointPayload
}

// StatusStore is the durable work queue.
//
// ClaimPending must be atomic across concurrent callers: a claimed item is
// leased and not returned again until the lease expires or a terminal status
// is written.
type StatusStore interface {
	ClaimPending(ctx context.Context, limit int) ([]WorkItem, error)
	UpdateStatus(ctx context.Context, url string, status Status, errMsg string) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, points []EmbeddingPoint) error
}

// CollectionEnsurer creates the target collection if it does not exist yet.
type CollectionEnsurer interface {
	EnsureCollection(ctx context.Context) error
}

type Chunker interface {
	Chunk(text string) []string
}

type Router interface {
	Route(url string) (extract.Route, error)
}

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

// RunRecord summarises one ProcessBatch invocation.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Limit      int
	Attempted  int
	Processed  int
	Failed     int
	Error      string
}

type RunRecorder interface {
	RecordRun(ctx context.Context, r RunRecord) error
}

// Queue is the full Status Store surface: the pipeline's claim/update plus
// seeding and reporting.
type Queue interface {
	StatusStore
	Seed(ctx context.Context, urls []string) (int, error)
	CountByStatus(ctx context.Context) (map[Status]int, error)
}
