package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"taxrag/apps/ingestor/internal/worker"
)

var ErrNotFound = errors.New("work item not found")

const maxConflictRetries = 5

// record is the stored form of a work item. Status holds the configured
// status string, not the enum.
type record struct {
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	LastError    string    `json:"last_error,omitempty"`
	ClaimedUntil time.Time `json:"claimed_until"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is an embedded work queue for single-host deployments.
type Store struct {
	db     *badger.DB
	prefix []byte
	names  worker.StatusNames
	lease  time.Duration
	now    func() time.Time
}

type loggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*loggerAdapter)(nil)

func (l *loggerAdapter) Errorf(msg string, items ...any) {
	l.logger.Error(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Warningf(msg string, items ...any) {
	l.logger.Warn(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Infof(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

func (l *loggerAdapter) Debugf(msg string, items ...any) {
	l.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens the database at path, or an in-memory one when path is empty.
func Open(path string) (*badger.DB, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger dir: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &loggerAdapter{logger: slog.Default()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// NewStore keys every item under table + ":" so several queues can share a
// database.
func NewStore(db *badger.DB, table string, names worker.StatusNames, lease time.Duration) *Store {
	return &Store{
		db:     db,
		prefix: []byte(table + ":"),
		names:  names,
		lease:  lease,
		now:    time.Now,
	}
}

func (s *Store) key(url string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(url))
	k = append(k, s.prefix...)
	return append(k, url...)
}

func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getRecord(txn *badger.Txn, key []byte) (*record, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var r record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func setRecord(txn *badger.Txn, key []byte, r *record) error {
	val, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

func (s *Store) ClaimPending(ctx context.Context, limit int) ([]worker.WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []worker.WorkItem
	err := s.update(func(txn *badger.Txn) error {
		items = items[:0]
		now := s.now().UTC()

		var claimed []*record
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix) && len(claimed) < limit; it.Next() {
			var r record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				it.Close()
				return err
			}
			if r.Status != s.names.Pending || r.ClaimedUntil.After(now) {
				continue
			}
			claimed = append(claimed, &r)
		}
		it.Close()

		for _, r := range claimed {
			r.Attempts++
			r.ClaimedUntil = now.Add(s.lease)
			r.UpdatedAt = now
			if err := setRecord(txn, s.key(r.URL), r); err != nil {
				return err
			}
			items = append(items, worker.WorkItem{
				URL:       r.URL,
				Status:    worker.StatusPending,
				Attempts:  r.Attempts,
				LastError: r.LastError,
				UpdatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending items: %w", err)
	}
	return items, nil
}

func (s *Store) UpdateStatus(ctx context.Context, url string, status worker.Status, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.update(func(txn *badger.Txn) error {
		k := s.key(url)
		r, err := getRecord(txn, k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		r.Status = s.names.Encode(status)
		r.LastError = errMsg
		r.ClaimedUntil = time.Time{}
		r.UpdatedAt = s.now().UTC()
		return setRecord(txn, k, r)
	})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return fmt.Errorf("failed to update status for %s: %w", url, err)
	}
	return nil
}

// Seed inserts urls as pending and reports how many were new.
func (s *Store) Seed(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var created int
	err := s.update(func(txn *badger.Txn) error {
		created = 0
		now := s.now().UTC()
		seen := make(map[string]struct{}, len(urls))
		for _, u := range urls {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}

			k := s.key(u)
			_, err := txn.Get(k)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := setRecord(txn, k, &record{
				URL:       u,
				Status:    s.names.Pending,
				CreatedAt: now,
				UpdatedAt: now,
			}); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to seed work items: %w", err)
	}
	return created, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[worker.Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	counts := make(map[worker.Status]int)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
			var r record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			}); err != nil {
				return err
			}
			status, ok := s.names.Decode(r.Status)
			if !ok {
				continue
			}
			counts[status]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count work items: %w", err)
	}
	return counts, nil
}

// Get returns the item stored for url.
func (s *Store) Get(ctx context.Context, url string) (*worker.WorkItem, error) {
	var out *worker.WorkItem
	err := s.db.View(func(txn *badger.Txn) error {
		r, err := getRecord(txn, s.key(url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		status, _ := s.names.Decode(r.Status)
		out = &worker.WorkItem{
			URL:       r.URL,
			Status:    status,
			Attempts:  r.Attempts,
			LastError: r.LastError,
			UpdatedAt: r.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
