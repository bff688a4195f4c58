package worker_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrag/apps/ingestor/features/run"
	"taxrag/apps/ingestor/features/workitem"
	wstore "taxrag/apps/ingestor/internal/adapter/weaviate"
	"taxrag/apps/ingestor/internal/extract"
	"taxrag/apps/ingestor/internal/testutils"
	"taxrag/apps/ingestor/internal/text"
	"taxrag/apps/ingestor/internal/vector"
	"taxrag/apps/ingestor/internal/worker"
)

type constantEmbedder struct{}

func (constantEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestIngestIntegration(t *testing.T) {
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	cfg := s.GetAppConfig()

	para := strings.Repeat("Taxpayers must report all income. ", 200)
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/taxtopics/tc101":
			fmt.Fprintf(w, `<html><body><div class="field--name-body"><p>%s</p><p>Keep records.</p></div></body></html>`, para)
		case "/taxtopics/empty":
			fmt.Fprint(w, `<html><body><div class="other"><p>nav</p></div></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer site.Close()

	fetcher := extract.NewFetcher(5*time.Second, "ingestor-test", extract.DefaultMaxBytes)
	router := extract.NewRouter(extract.DomainRoute{
		Domain:    site.Listener.Addr().String(),
		Extractor: extract.NewIRS(site.URL, fetcher),
	})

	tok, err := text.NewTiktoken(cfg.TokenizerEncoding)
	require.NoError(t, err)
	chunker, err := text.NewChunker(tok, cfg.ChunkMaxTokens, cfg.ChunkOverlap)
	require.NoError(t, err)

	queue, err := workitem.NewPostgresRepo(s.DB, workitem.DefaultTable, worker.DefaultStatusNames(), time.Minute)
	require.NoError(t, err)
	vecStore := wstore.NewStore(s.Weaviate, cfg.CollectionName)
	collection := vector.NewCollection(vector.NewWeaviateSchema(s.Weaviate), vector.CollectionSpec{
		Name:       cfg.CollectionName,
		VectorSize: cfg.VectorSize,
		Distance:   cfg.DistanceMetric,
	})
	runs := run.NewPostgresRepo(s.DB)

	good := site.URL + "/taxtopics/tc101"
	empty := site.URL + "/taxtopics/empty"
	missing := site.URL + "/taxtopics/missing"
	unrouted := "https://example.com/taxtopics/tc1"

	_, err = queue.Seed(ctx, []string{good, empty, missing, unrouted})
	require.NoError(t, err)

	pipeline := worker.NewPipeline(queue, collection, worker.ItemDeps{
		Router:       router,
		Chunker:      chunker,
		Embedder:     constantEmbedder{},
		Store:        vecStore,
		EmbedTimeout: 5 * time.Second,
		VectorSize:   cfg.VectorSize,
	}, worker.WithRunRecorder(runs), worker.WithConcurrency(2))

	res, err := pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempted)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 3, res.Failed)

	item, err := queue.Get(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, worker.StatusProcessed, item.Status)

	for _, u := range []string{empty, missing, unrouted} {
		item, err := queue.Get(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, worker.StatusError, item.Status, u)
		assert.NotEmpty(t, item.LastError, u)
	}

	wantChunks := len(chunker.Chunk(para + "\nKeep records."))
	require.Greater(t, wantChunks, 1)

	n, err := vecStore.CountByURL(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, wantChunks, n)

	points, err := vecStore.PointsByURL(ctx, good, 100)
	require.NoError(t, err)
	for _, p := range points {
		assert.Equal(t, extract.SourceIRS, p.Source)
		assert.Equal(t, good, p.URL)
	}

	// Terminal items are never picked up again.
	res, err = pipeline.ProcessBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Attempted)

	history, err := runs.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 0, history[0].Attempted)
	assert.Equal(t, 4, history[1].Attempted)
}
