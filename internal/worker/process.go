package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemDeps are the collaborators ProcessItem needs. None of them is the
// Status Store: status writes belong to the Pipeline.
type ItemDeps struct {
	Router   Router
	Chunker  Chunker
	Embedder Embedder
	Store    VectorStore

	// EmbedTimeout bounds each embedding call. Zero means no extra bound.
	EmbedTimeout time.Duration
	// VectorSize, when positive, rejects vectors of any other length.
	VectorSize int
	// NewID generates point ids; defaults to uuid v4.
	NewID func() string
}

// Outcome is the result of one processing attempt.
type Outcome struct {
	URL      string
	Source   string
	Status   Status
	Kind     ErrorKind
	Err      error
	Chunks   int
	Points   int
	Duration time.Duration
}

func (o Outcome) failed(kind ErrorKind, err error) Outcome {
	o.Status = StatusError
	o.Kind = kind
	o.Err = &ItemError{Kind: kind, URL: o.URL, Err: err}
	return o
}

// ErrorMessage is the text persisted alongside an Error status.
func (o Outcome) ErrorMessage() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// ProcessItem runs route, extract, chunk, embed and upsert for one item. It
// never returns an error and never panics: every failure is folded into the
// Outcome.
func ProcessItem(ctx context.Context, deps ItemDeps, item WorkItem) (out Outcome) {
	start := time.Now()
	out = Outcome{URL: item.URL}
	defer func() {
		if r := recover(); r != nil {
			out = out.failed(ErrorKindInternal, fmt.Errorf("panic: %v", r))
		}
		out.Duration = time.Since(start)
	}()

	route, err := deps.Router.Route(item.URL)
	if err != nil {
		return out.failed(ErrorKindRouting, err)
	}
	out.Source = route.Source

	text, err := route.Extractor.Extract(ctx, route.Endpoint)
	if err != nil {
		return out.failed(ErrorKindExtraction, err)
	}
	if strings.TrimSpace(text) == "" {
		return out.failed(ErrorKindExtraction, ErrEmptyContent)
	}

	chunks := deps.Chunker.Chunk(text)
	out.Chunks = len(chunks)

	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	points := make([]EmbeddingPoint, 0, len(chunks))
	for i, chunk := range chunks {
		vec, err := embed(ctx, deps, chunk)
		if err != nil {
			return out.failed(ErrorKindEmbedding, fmt.Errorf("chunk %d: %w", i, err))
		}
		points = append(points, EmbeddingPoint{
			ID:     newID(),
			Vector: vec,
			Payload: PointPayload{
				Text:   chunk,
				Source: route.Source,
				URL:    item.URL,
			},
		})
	}

	if len(points) > 0 {
		if err := deps.Store.Upsert(ctx, points); err != nil {
			return out.failed(ErrorKindUpsert, err)
		}
	}
	out.Points = len(points)
	out.Status = StatusProcessed
	return out
}

func embed(ctx context.Context, deps ItemDeps, text string) ([]float32, error) {
	if deps.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.EmbedTimeout)
		defer cancel()
	}

	vec, err := deps.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if deps.VectorSize > 0 && len(vec) != deps.VectorSize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), deps.VectorSize)
	}
	return vec, nil
}
