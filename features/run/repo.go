package run

import (
	"context"
	"database/sql"
	"fmt"

	"taxrag/apps/ingestor/internal/worker"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 200
)

type Repository interface {
	List(ctx context.Context, limit int) ([]Run, error)
	Count(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

// RecordRun stores one invocation summary. Recording twice with the same id
// keeps the latest counts.
func (r *PostgresRepo) RecordRun(ctx context.Context, rec worker.RunRecord) error {
	query := `INSERT INTO ingestion_runs (id, batch_limit, attempted, processed, failed, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		ON CONFLICT (id) DO UPDATE SET attempted = EXCLUDED.attempted, processed = EXCLUDED.processed,
			failed = EXCLUDED.failed, error = EXCLUDED.error, finished_at = EXCLUDED.finished_at`
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.Limit, rec.Attempted, rec.Processed, rec.Failed, rec.Error, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", rec.ID, err)
	}
	return nil
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, batch_limit, attempted, processed, failed, COALESCE(error, ''), started_at, finished_at
		FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Limit, &run.Attempted, &run.Processed, &run.Failed, &run.Error, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM ingestion_runs`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
