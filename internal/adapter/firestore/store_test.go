package firestore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	store "taxrag/apps/ingestor/internal/adapter/firestore"
	"taxrag/apps/ingestor/internal/worker"
)

func TestDocID(t *testing.T) {
	a := store.DocID("https://www.irs.gov/taxtopics/tc101")
	b := store.DocID("https://www.irs.gov/taxtopics/tc102")

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, store.DocID("https://www.irs.gov/taxtopics/tc101"))
	assert.NotContains(t, a, "/")
}

// Runs against the Firestore emulator when FIRESTORE_EMULATOR_HOST is set.
func TestStore_Emulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := store.NewClient(ctx, "ingestor-test")
	require.NoError(t, err)

	s := store.NewStore(client, "work_items_"+uuid.NewString()[:8], worker.DefaultStatusNames(), time.Minute)
	defer s.Close()

	var urls []string
	for i := 1; i <= 6; i++ {
		urls = append(urls, fmt.Sprintf("https://www.irs.gov/taxtopics/tc%d", i))
	}

	n, err := s.Seed(ctx, urls)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	n, err = s.Seed(ctx, urls[:2])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	first, err := s.ClaimPending(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, first, 4)

	second, err := s.ClaimPending(ctx, 4)
	require.NoError(t, err)
	assert.Len(t, second, 2)
	for _, a := range first {
		for _, b := range second {
			assert.NotEqual(t, a.URL, b.URL)
		}
	}

	require.NoError(t, s.UpdateStatus(ctx, first[0].URL, worker.StatusProcessed, ""))
	require.NoError(t, s.UpdateStatus(ctx, first[1].URL, worker.StatusError, "routing error"))
	assert.ErrorIs(t, s.UpdateStatus(ctx, "https://unknown", worker.StatusProcessed, ""), store.ErrNotFound)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[worker.StatusPending])
	assert.Equal(t, 1, counts[worker.StatusProcessed])
	assert.Equal(t, 1, counts[worker.StatusError])
}
