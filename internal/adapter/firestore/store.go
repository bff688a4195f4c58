package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"taxrag/apps/ingestor/internal/worker"
)

var ErrNotFound = errors.New("work item not found")

// workItemDoc is the stored shape. Unclaimed items carry the zero time in
// ClaimedUntil so the claim query can use a single range filter.
type workItemDoc struct {
	URL          string    `firestore:"url"`
	Status       string    `firestore:"status"`
	Attempts     int       `firestore:"attempts"`
	LastError    string    `firestore:"last_error"`
	ClaimedUntil time.Time `firestore:"claimed_until"`
	CreatedAt    time.Time `firestore:"created_at"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

// Store keeps work items in one Firestore collection, one document per URL.
type Store struct {
	client     *firestore.Client
	collection string
	names      worker.StatusNames
	lease      time.Duration
	now        func() time.Time
}

// NewClient creates a Firestore client for projectID.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

func NewStore(client *firestore.Client, collection string, names worker.StatusNames, lease time.Duration) *Store {
	return &Store{
		client:     client,
		collection: collection,
		names:      names,
		lease:      lease,
		now:        time.Now,
	}
}

// DocID is the document id for url. URLs contain '/', which Firestore treats
// as a path separator, so they are hashed.
func DocID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

func (s *Store) doc(url string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(DocID(url))
}

func (s *Store) ClaimPending(ctx context.Context, limit int) ([]worker.WorkItem, error) {
	var items []worker.WorkItem
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		items = items[:0]
		now := s.now().UTC()
		q := s.client.Collection(s.collection).
			Where("status", "==", s.names.Pending).
			Where("claimed_until", "<", now).
			OrderBy("claimed_until", firestore.Asc).
			Limit(limit)

		snaps, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}

		until := now.Add(s.lease)
		for _, snap := range snaps {
			var d workItemDoc
			if err := snap.DataTo(&d); err != nil {
				return fmt.Errorf("decode %s: %w", snap.Ref.ID, err)
			}
			err := tx.Update(snap.Ref, []firestore.Update{
				{Path: "claimed_until", Value: until},
				{Path: "attempts", Value: firestore.Increment(1)},
				{Path: "updated_at", Value: now},
			})
			if err != nil {
				return err
			}
			items = append(items, worker.WorkItem{
				URL:       d.URL,
				Status:    worker.StatusPending,
				Attempts:  d.Attempts + 1,
				LastError: d.LastError,
				UpdatedAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateStatus(ctx context.Context, url string, st worker.Status, errMsg string) error {
	_, err := s.doc(url).Update(ctx, []firestore.Update{
		{Path: "status", Value: s.names.Encode(st)},
		{Path: "last_error", Value: errMsg},
		{Path: "claimed_until", Value: time.Time{}},
		{Path: "updated_at", Value: s.now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return err
}

// Seed creates a pending document per url; documents that already exist are
// left alone.
func (s *Store) Seed(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	now := s.now().UTC()
	jobs := make([]*firestore.BulkWriterJob, 0, len(urls))
	for _, u := range urls {
		job, err := bw.Create(s.doc(u), workItemDoc{
			URL:       u,
			Status:    s.names.Pending,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			bw.End()
			return 0, err
		}
		jobs = append(jobs, job)
	}
	bw.End()

	created := 0
	for i, job := range jobs {
		_, err := job.Results()
		switch {
		case err == nil:
			created++
		case status.Code(err) == codes.AlreadyExists:
		default:
			slog.WarnContext(ctx, "failed to seed work item", "error", err, "url", urls[i])
		}
	}
	return created, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[worker.Status]int, error) {
	counts := make(map[worker.Status]int)
	for _, st := range []worker.Status{worker.StatusPending, worker.StatusProcessed, worker.StatusError} {
		q := s.client.Collection(s.collection).Where("status", "==", s.names.Encode(st))
		res, err := q.NewAggregationQuery().WithCount("all").Get(ctx)
		if err != nil {
			return nil, err
		}
		v, ok := res["all"].(*firestorepb.Value)
		if !ok {
			return nil, fmt.Errorf("unexpected count type %T", res["all"])
		}
		counts[st] = int(v.GetIntegerValue())
	}
	return counts, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
