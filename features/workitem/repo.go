package workitem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/lib/pq"

	"taxrag/apps/ingestor/internal/worker"
)

const DefaultTable = "work_items"

var (
	ErrNotFound     = errors.New("work item not found")
	ErrInvalidTable = errors.New("invalid work item table name")
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidTable reports whether name can be used unquoted as the work item table.
func ValidTable(name string) bool {
	return tableName.MatchString(name)
}

// PostgresRepo is the default Status Store. Claims take a row lease with
// FOR UPDATE SKIP LOCKED so overlapping invocations never share an item.
// The table must have the layout the migrations create for work_items.
type PostgresRepo struct {
	db    *sql.DB
	table string
	names worker.StatusNames
	lease time.Duration
}

func NewPostgresRepo(db *sql.DB, table string, names worker.StatusNames, lease time.Duration) (*PostgresRepo, error) {
	if table == "" {
		table = DefaultTable
	}
	if !ValidTable(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return &PostgresRepo{db: db, table: table, names: names, lease: lease}, nil
}

// ClaimPending leases up to limit pending items, oldest first.
func (r *PostgresRepo) ClaimPending(ctx context.Context, limit int) ([]worker.WorkItem, error) {
	query := fmt.Sprintf(`WITH claimable AS (
	SELECT url FROM %[1]s
	WHERE status = $1 AND (claimed_until IS NULL OR claimed_until < NOW())
	ORDER BY created_at, url
	LIMIT $3
	FOR UPDATE SKIP LOCKED
)
UPDATE %[1]s w SET claimed_until = NOW() + make_interval(secs => $2), attempts = w.attempts + 1, updated_at = NOW()
FROM claimable c
WHERE w.url = c.url
RETURNING w.url, w.status, w.attempts, COALESCE(w.last_error, ''), w.updated_at, w.created_at`, r.table)

	rows, err := r.db.QueryContext(ctx, query, r.names.Pending, r.lease.Seconds(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		item      worker.WorkItem
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var c claimed
		var status string
		if err := rows.Scan(&c.item.URL, &status, &c.item.Attempts, &c.item.LastError, &c.item.UpdatedAt, &c.createdAt); err != nil {
			return nil, err
		}
		c.item.Status, _ = r.names.Decode(status)
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified
	sort.SliceStable(batch, func(i, j int) bool {
		if !batch[i].createdAt.Equal(batch[j].createdAt) {
			return batch[i].createdAt.Before(batch[j].createdAt)
		}
		return batch[i].item.URL < batch[j].item.URL
	})

	items := make([]worker.WorkItem, 0, len(batch))
	for _, c := range batch {
		items = append(items, c.item)
	}
	return items, nil
}

func (r *PostgresRepo) UpdateStatus(ctx context.Context, url string, status worker.Status, errMsg string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1, last_error = NULLIF($2, ''), claimed_until = NULL, updated_at = NOW() WHERE url = $3`, r.table)
	res, err := r.db.ExecContext(ctx, query, r.names.Encode(status), errMsg, url)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return nil
}

// Seed inserts urls as pending. Existing rows are left untouched, so seeding
// never resets a processed item. Returns the number of new rows.
func (r *PostgresRepo) Seed(ctx context.Context, urls []string) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (url, status) SELECT unnest($1::text[]), $2 ON CONFLICT (url) DO NOTHING`, r.table)
	res, err := r.db.ExecContext(ctx, query, pq.Array(urls), r.names.Pending)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[worker.Status]int, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, r.table)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[worker.Status]int)
	for rows.Next() {
		var raw string
		var n int
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, err
		}
		status, ok := r.names.Decode(raw)
		if !ok {
			status = worker.Status(raw)
		}
		counts[status] += n
	}
	return counts, rows.Err()
}

func (r *PostgresRepo) Get(ctx context.Context, url string) (*worker.WorkItem, error) {
	query := fmt.Sprintf(`SELECT url, status, attempts, COALESCE(last_error, ''), updated_at FROM %s WHERE url = $1`, r.table)
	var item worker.WorkItem
	var status string
	err := r.db.QueryRowContext(ctx, query, url).Scan(&item.URL, &status, &item.Attempts, &item.LastError, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, err
	}
	item.Status, _ = r.names.Decode(status)
	return &item, nil
}
