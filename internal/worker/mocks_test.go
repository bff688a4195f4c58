package worker_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/stretchr/testify/mock"

	"taxrag/apps/ingestor/internal/worker"
)

// Mocks

type MockStatusStore struct{ mock.Mock }

func (m *MockStatusStore) ClaimPending(ctx context.Context, limit int) ([]worker.WorkItem, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]worker.WorkItem), args.Error(1)
}

func (m *MockStatusStore) UpdateStatus(ctx context.Context, url string, status worker.Status, errMsg string) error {
	args := m.Called(ctx, url, status, errMsg)
	return args.Error(0)
}

type MockEmbedder struct{ mock.Mock }

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

type MockVectorStore struct{ mock.Mock }

func (m *MockVectorStore) Upsert(ctx context.Context, points []worker.EmbeddingPoint) error {
	args := m.Called(ctx, points)
	return args.Error(0)
}

type MockCollection struct{ mock.Mock }

func (m *MockCollection) EnsureCollection(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockTaskPublisher struct{ mock.Mock }

func (m *MockTaskPublisher) Publish(topic string, body []byte) error {
	args := m.Called(topic, body)
	return args.Error(0)
}

type MockRunRecorder struct{ mock.Mock }

func (m *MockRunRecorder) RecordRun(ctx context.Context, r worker.RunRecord) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

type MockExtractor struct {
	mock.Mock
	source string
	base   string
}

func (m *MockExtractor) Source() string  { return m.source }
func (m *MockExtractor) BaseURL() string { return m.base }

func (m *MockExtractor) Extract(ctx context.Context, endpoint string) (string, error) {
	args := m.Called(ctx, endpoint)
	return args.String(0), args.Error(1)
}

type MockBatchRunner struct{ mock.Mock }

func (m *MockBatchRunner) ProcessBatch(ctx context.Context, limit int) (worker.BatchResult, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(worker.BatchResult), args.Error(1)
}

// byteTokenizer treats every byte as one token. It is stateless, so it is
// safe for pooled tests.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	tokens := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		tokens[i] = int(text[i])
	}
	return tokens
}

func (byteTokenizer) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

// fixedChunker returns the same chunks for any input.
type fixedChunker struct{ chunks []string }

func (c fixedChunker) Chunk(string) []string { return c.chunks }

// panicChunker simulates a bug deep inside item processing.
type panicChunker struct{}

func (panicChunker) Chunk(string) []string { panic("boom") }

// sequenceIDs hands out predictable point ids.
type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (s *sequenceIDs) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}
