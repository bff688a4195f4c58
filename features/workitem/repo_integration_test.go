package workitem_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrag/apps/ingestor/features/workitem"
	"taxrag/apps/ingestor/internal/testutils"
	"taxrag/apps/ingestor/internal/worker"
)

func TestPostgresRepo_Integration(t *testing.T) {
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	repo, err := workitem.NewPostgresRepo(s.DB, workitem.DefaultTable, worker.DefaultStatusNames(), time.Minute)
	require.NoError(t, err)

	var urls []string
	for i := 1; i <= 10; i++ {
		urls = append(urls, fmt.Sprintf("https://www.irs.gov/taxtopics/tc%03d", i))
	}

	n, err := repo.Seed(ctx, urls)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// Re-seeding is a no-op
	n, err = repo.Seed(ctx, urls[:3])
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Two overlapping invocations never claim the same url
	var wg sync.WaitGroup
	claimed := make([][]worker.WorkItem, 2)
	for i := range claimed {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := repo.ClaimPending(ctx, 5)
			assert.NoError(t, err)
			claimed[i] = items
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, batch := range claimed {
		for _, item := range batch {
			assert.False(t, seen[item.URL], "claimed twice: %s", item.URL)
			seen[item.URL] = true
		}
	}
	assert.Len(t, seen, 10)

	// Everything is leased now
	items, err := repo.ClaimPending(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, repo.UpdateStatus(ctx, urls[0], worker.StatusProcessed, ""))
	require.NoError(t, repo.UpdateStatus(ctx, urls[1], worker.StatusError, "routing error"))

	item, err := repo.Get(ctx, urls[1])
	require.NoError(t, err)
	assert.Equal(t, worker.StatusError, item.Status)
	assert.Equal(t, "routing error", item.LastError)
	assert.Equal(t, 1, item.Attempts)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, counts[worker.StatusPending])
	assert.Equal(t, 1, counts[worker.StatusProcessed])
	assert.Equal(t, 1, counts[worker.StatusError])

	// Expired leases become claimable again
	_, err = s.DB.ExecContext(ctx, `UPDATE work_items SET claimed_until = NOW() - INTERVAL '1 second' WHERE status = 'pending'`)
	require.NoError(t, err)
	items, err = repo.ClaimPending(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, items, 8)
}
