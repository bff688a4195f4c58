package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"taxrag/apps/ingestor/internal/config"
	"taxrag/apps/ingestor/internal/logger"
	"taxrag/apps/ingestor/internal/middleware"
)

const statusWriteTimeout = 10 * time.Second

// BatchResult is what one ProcessBatch call reports back. Item failures are
// counted here, never returned as an error.
type BatchResult struct {
	RunID               string    `json:"run_id"`
	Attempted           int       `json:"attempted"`
	Processed           int       `json:"processed"`
	Failed              int       `json:"failed"`
	StatusWriteFailures int       `json:"status_write_failures,omitempty"`
	Outcomes            []Outcome `json:"-"`
}

// Pipeline drives batches: claim, bootstrap the collection, process each
// item in isolation, write exactly one terminal status per item.
type Pipeline struct {
	store       StatusStore
	collection  CollectionEnsurer
	deps        ItemDeps
	concurrency int
	publisher   TaskPublisher
	runs        RunRecorder
	metrics     *Metrics

	mu      sync.Mutex
	ensured bool
}

type Option func(*Pipeline)

// WithConcurrency processes up to n items of a batch at once. n <= 1 keeps
// the batch sequential.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

// WithPublisher publishes an ItemResultEvent per item.
func WithPublisher(tp TaskPublisher) Option {
	return func(p *Pipeline) { p.publisher = tp }
}

func WithRunRecorder(r RunRecorder) Option {
	return func(p *Pipeline) { p.runs = r }
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(store StatusStore, collection CollectionEnsurer, deps ItemDeps, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		collection:  collection,
		deps:        deps,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProcessBatch claims up to limit pending items and processes them. The
// returned error is non-nil only for invocation-level failures: the Status
// Store could not be reached, the collection could not be bootstrapped, or
// ctx was cancelled before every claimed item was attempted.
func (p *Pipeline) ProcessBatch(ctx context.Context, limit int) (res BatchResult, err error) {
	res.RunID = uuid.NewString()
	ctx = middleware.WithRunID(middleware.EnsureCorrelationID(ctx), res.RunID)
	started := time.Now()

	defer func() {
		p.metrics.observeBatch(time.Since(started))
		p.recordRun(ctx, started, limit, res, err)
	}()

	items, err := p.store.ClaimPending(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrStatusStore, err)
	}
	if len(items) == 0 {
		slog.InfoContext(ctx, "no pending work items")
		return res, nil
	}

	if err := p.ensureCollection(ctx); err != nil {
		return res, err
	}

	slog.InfoContext(ctx, "processing batch", "claimed", len(items), "concurrency", p.concurrency)

	var handled []handledItem
	if p.concurrency > 1 && len(items) > 1 {
		handled, err = p.runPooled(ctx, items)
	} else {
		handled, err = p.runSequential(ctx, items)
	}

	for _, h := range handled {
		if !h.done {
			continue
		}
		res.Attempted++
		if h.outcome.Status == StatusProcessed {
			res.Processed++
		} else {
			res.Failed++
		}
		if h.statusWriteErr != nil {
			res.StatusWriteFailures++
		}
		res.Outcomes = append(res.Outcomes, h.outcome)
	}

	slog.InfoContext(ctx, "batch complete",
		"attempted", res.Attempted,
		"processed", res.Processed,
		"failed", res.Failed,
	)
	return res, err
}

type handledItem struct {
	done           bool
	outcome        Outcome
	statusWriteErr error
}

func (p *Pipeline) runSequential(ctx context.Context, items []WorkItem) ([]handledItem, error) {
	handled := make([]handledItem, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return handled, err
		}
		handled = append(handled, p.handle(ctx, item))
	}
	return handled, nil
}

func (p *Pipeline) runPooled(ctx context.Context, items []WorkItem) ([]handledItem, error) {
	pool, err := ants.NewPool(p.concurrency)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	handled := make([]handledItem, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			handled[i] = p.handle(ctx, item)
		})
		if submitErr != nil {
			wg.Done()
			slog.ErrorContext(ctx, "failed to submit work item", "error", submitErr, "url", item.URL)
		}
	}
	wg.Wait()
	return handled, ctx.Err()
}

// handle processes one item and persists its terminal status. Claimed items
// that are never handled, or whose processing was cut short by cancellation,
// stay pending until their lease expires.
func (p *Pipeline) handle(ctx context.Context, item WorkItem) handledItem {
	ctx = logger.WithURL(ctx, item.URL)
	o := ProcessItem(ctx, p.deps, item)

	// A failure while the invocation is being torn down says nothing about
	// the item. Leave it pending so the lease expires and it is claimed again.
	if o.Err != nil && ctx.Err() != nil {
		slog.WarnContext(ctx, "work item abandoned on cancellation", "error", o.Err, "kind", o.Kind)
		return handledItem{}
	}

	if o.Err != nil {
		slog.ErrorContext(ctx, "work item failed", "error", o.Err, "kind", o.Kind, "source", o.Source)
	} else {
		slog.InfoContext(ctx, "work item processed", "source", o.Source, "chunks", o.Chunks, "points", o.Points)
	}

	// The item's fate is decided; record it even if the invocation is being
	// torn down.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	writeErr := p.store.UpdateStatus(writeCtx, item.URL, o.Status, o.ErrorMessage())
	if writeErr != nil {
		slog.ErrorContext(ctx, "failed to write item status", "error", writeErr, "status", o.Status)
		p.metrics.observeStatusWriteFailure(o.Status)
	}

	p.metrics.observeItem(o)
	p.publish(ctx, o)
	return handledItem{done: true, outcome: o, statusWriteErr: writeErr}
}

func (p *Pipeline) ensureCollection(ctx context.Context) error {
	if p.collection == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ensured {
		return nil
	}
	if err := p.collection.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrCollectionBootstrap, err)
	}
	p.ensured = true
	return nil
}

func (p *Pipeline) publish(ctx context.Context, o Outcome) {
	if p.publisher == nil {
		return
	}
	body, err := json.Marshal(newItemResultEvent(ctx, o))
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal result event", "error", err)
		return
	}
	if err := p.publisher.Publish(config.TopicIngestResult, body); err != nil {
		slog.WarnContext(ctx, "failed to publish result event", "error", err)
	}
}

func (p *Pipeline) recordRun(ctx context.Context, started time.Time, limit int, res BatchResult, runErr error) {
	if p.runs == nil {
		return
	}
	rec := RunRecord{
		ID:         res.RunID,
		StartedAt:  started.UTC(),
		FinishedAt: time.Now().UTC(),
		Limit:      limit,
		Attempted:  res.Attempted,
		Processed:  res.Processed,
		Failed:     res.Failed,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer cancel()
	if err := p.runs.RecordRun(writeCtx, rec); err != nil && !errors.Is(err, context.Canceled) {
		slog.WarnContext(ctx, "failed to record run", "error", err)
	}
}
