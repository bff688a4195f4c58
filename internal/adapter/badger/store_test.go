package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxrag/apps/ingestor/internal/worker"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, "work_items", worker.DefaultStatusNames(), time.Minute)
}

func seedURLs(n int) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://www.irs.gov/taxtopics/tc%03d", i+1)
	}
	return urls
}

func TestStore_SeedIgnoresDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Seed(ctx, seedURLs(3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Seed(ctx, append(seedURLs(4), "https://www.irs.gov/taxtopics/tc004"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts[worker.StatusPending])
}

func TestStore_ClaimLeasesItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx, seedURLs(5))
	require.NoError(t, err)

	first, err := s.ClaimPending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, first, 3)
	for _, it := range first {
		assert.Equal(t, worker.StatusPending, it.Status)
		assert.Equal(t, 1, it.Attempts)
	}

	second, err := s.ClaimPending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, second, 2)

	third, err := s.ClaimPending(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, third)

	// Leased items still count as pending.
	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[worker.StatusPending])
}

func TestStore_ExpiredLeaseIsReclaimable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx, seedURLs(1))
	require.NoError(t, err)

	_, err = s.ClaimPending(ctx, 1)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	items, err := s.ClaimPending(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
}

func TestStore_ConcurrentClaimsAreDisjoint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx, seedURLs(20))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := s.ClaimPending(ctx, 5)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, it := range items {
				seen[it.URL]++
			}
		}()
	}
	wg.Wait()

	for url, n := range seen {
		assert.Equal(t, 1, n, url)
	}
}

func TestStore_UpdateStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	urls := seedURLs(3)
	_, err := s.Seed(ctx, urls)
	require.NoError(t, err)
	_, err = s.ClaimPending(ctx, 3)
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, urls[0], worker.StatusProcessed, ""))
	require.NoError(t, s.UpdateStatus(ctx, urls[1], worker.StatusError, "routing error for x"))

	got, err := s.Get(ctx, urls[1])
	require.NoError(t, err)
	assert.Equal(t, worker.StatusError, got.Status)
	assert.Equal(t, "routing error for x", got.LastError)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[worker.Status]int{
		worker.StatusPending:   1,
		worker.StatusProcessed: 1,
		worker.StatusError:     1,
	}, counts)

	// Terminal items are never claimed again.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	items, err := s.ClaimPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, urls[2], items[0].URL)

	err = s.UpdateStatus(ctx, "https://www.irs.gov/unknown", worker.StatusProcessed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CustomStatusNames(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()

	names := worker.StatusNames{Pending: "todo", Processed: "done", Error: "failed"}
	s := NewStore(db, "queue", names, time.Minute)
	ctx := context.Background()

	_, err = s.Seed(ctx, seedURLs(1))
	require.NoError(t, err)
	require.NoError(t, s.UpdateStatus(ctx, seedURLs(1)[0], worker.StatusProcessed, ""))

	var raw string
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		r, err := getRecord(txn, s.key(seedURLs(1)[0]))
		if err != nil {
			return err
		}
		raw = r.Status
		return nil
	}))
	assert.Equal(t, "done", raw)
}
