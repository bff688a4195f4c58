package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	DefaultModel   = "text-embedding-3-small"
	DefaultBaseURL = "https://api.openai.com/v1"
)

var ErrEmptyEmbedding = errors.New("empty embedding received")

// Embedder talks to any OpenAI-compatible embeddings endpoint through
// langchaingo.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

// NewEmbedder builds an embedder. An empty token is sent as "none", which
// local OpenAI-compatible servers accept.
func NewEmbedder(baseURL, token, model string) (*Embedder, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if token == "" {
		token = "none"
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	return &Embedder{
		embedder: embedder,
		model:    model,
		logger:   slog.Default().With("component", "openai-embedder"),
	}, nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.logger.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))

	vectors, err := e.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vectors[0], nil
}

func (e *Embedder) Model() string { return e.model }
