package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/franklinbaldo/baliza-sub001/internal/apperror"
	domain "github.com/franklinbaldo/baliza-sub001/internal/task"
)

const dateFormat = "2006-01-02"

const taskColumns = `key, source, bucket_start, bucket_end, param_name, param_value,
	page_size, status, total_pages, total_records, missing_pages, last_error,
	created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Upsert(ctx context.Context, t *domain.Task) (bool, error) {
	const query = `INSERT INTO tasks (key, source, bucket_start, bucket_end,
			param_name, param_value, page_size, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		t.Key, t.Source,
		t.BucketStart.Format(dateFormat), t.BucketEnd.Format(dateFormat),
		t.ParamName, t.ParamValue, t.PageSize, string(t.Status),
	)
	if err != nil {
		return false, fmt.Errorf("upsert task: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		t.CreatedAt = time.Now().UTC()
		t.UpdatedAt = t.CreatedAt
	}
	return n > 0, nil
}

func (r *Repository) Get(ctx context.Context, key string) (*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE key = ?`

	t, err := scanTask(r.db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, apperror.New(apperror.NotFound, "task not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (r *Repository) List(ctx context.Context, f domain.Filter) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`

	var args []any
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, f.Source)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " ORDER BY key ASC LIMIT ?"
	args = append(args, limit)

	return r.queryTasks(ctx, query, args...)
}

func (r *Repository) Active(ctx context.Context) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status IN ('fetching', 'partial')
		ORDER BY key ASC`

	return r.queryTasks(ctx, query)
}

// ClaimPending picks the first pending task and moves it to discovering. The
// update is guarded on status, so when two workers pick the same candidate
// only one claim applies; the loser moves on to the next row.
func (r *Repository) ClaimPending(ctx context.Context) (*domain.Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var key string
		err := r.db.QueryRowContext(ctx,
			`SELECT key FROM tasks WHERE status = 'pending' ORDER BY key ASC LIMIT 1`,
		).Scan(&key)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim pending: select: %w", err)
		}

		res, err := r.db.ExecContext(ctx,
			`UPDATE tasks SET status = 'discovering', updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
			WHERE key = ? AND status = 'pending'`,
			key,
		)
		if err != nil {
			return nil, fmt.Errorf("claim pending: update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		return r.Get(ctx, key)
	}
}

func (r *Repository) MarkDiscovered(ctx context.Context, key string, totalPages, totalRecords int, missing []int) error {
	status := domain.StatusFetching
	if len(missing) == 0 {
		status = domain.StatusComplete
	}
	pages, err := encodePages(missing)
	if err != nil {
		return fmt.Errorf("mark discovered: %w", err)
	}

	const query = `UPDATE tasks SET status = ?, total_pages = ?, total_records = ?,
		missing_pages = ?, last_error = NULL,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE key = ? AND status = 'discovering'`

	res, err := r.db.ExecContext(ctx, query, string(status), totalPages, totalRecords, pages, key)
	if err != nil {
		return fmt.Errorf("mark discovered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.Conflict, "task is not being discovered")
	}
	return nil
}

func (r *Repository) MarkFetching(ctx context.Context, key string) (bool, error) {
	const query = `UPDATE tasks SET status = 'fetching',
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE key = ? AND status = 'partial'`

	res, err := r.db.ExecContext(ctx, query, key)
	if err != nil {
		return false, fmt.Errorf("mark fetching: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *Repository) MarkFailed(ctx context.Context, key, reason string) error {
	const query = `UPDATE tasks SET status = 'failed', last_error = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE key = ? AND status IN ('discovering', 'fetching')`

	res, err := r.db.ExecContext(ctx, query, reason, key)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.Conflict, "task is not in a failable status")
	}
	return nil
}

func (r *Repository) SetLastError(ctx context.Context, key, reason string) error {
	const query = `UPDATE tasks SET last_error = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE key = ?`

	_, err := r.db.ExecContext(ctx, query, reason, key)
	if err != nil {
		return fmt.Errorf("set last error: %w", err)
	}
	return nil
}

func (r *Repository) SetMissingPages(ctx context.Context, key string, missing []int, status domain.Status) error {
	pages, err := encodePages(missing)
	if err != nil {
		return fmt.Errorf("set missing pages: %w", err)
	}

	// Guarded so a terminal row can never be reopened.
	const query = `UPDATE tasks SET missing_pages = ?, status = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE key = ? AND status IN ('fetching', 'partial')`

	res, err := r.db.ExecContext(ctx, query, pages, string(status), key)
	if err != nil {
		return fmt.Errorf("set missing pages: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.New(apperror.Conflict, "task is not active")
	}
	return nil
}

func (r *Repository) RecoverStale(ctx context.Context) (int64, error) {
	const query = `UPDATE tasks SET status = 'pending', last_error = NULL,
		updated_at = strftime('%Y-%m-%dT%H:%M:%SZ', 'now')
		WHERE status = 'discovering'`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("recover stale tasks: %w", err)
	}

	return res.RowsAffected()
}

func (r *Repository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[domain.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.Status(status)] = n
	}
	return counts, rows.Err()
}

func (r *Repository) queryTasks(ctx context.Context, query string, args ...any) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*domain.Task, error) {
	t := &domain.Task{}
	var startStr, endStr, status, pagesStr string
	var createdStr, updatedStr string
	var totalPages, totalRecords sql.NullInt64
	var lastErr sql.NullString

	err := row.Scan(
		&t.Key, &t.Source, &startStr, &endStr,
		&t.ParamName, &t.ParamValue, &t.PageSize, &status,
		&totalPages, &totalRecords, &pagesStr, &lastErr,
		&createdStr, &updatedStr,
	)
	if err != nil {
		return nil, err
	}

	t.Status = domain.Status(status)
	if totalPages.Valid {
		v := int(totalPages.Int64)
		t.TotalPages = &v
	}
	if totalRecords.Valid {
		v := int(totalRecords.Int64)
		t.TotalRecords = &v
	}
	if lastErr.Valid {
		t.LastError = lastErr.String
	}
	if t.MissingPages, err = decodePages(pagesStr); err != nil {
		return nil, err
	}
	t.BucketStart, _ = time.Parse(dateFormat, startStr)
	t.BucketEnd, _ = time.Parse(dateFormat, endStr)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedStr)
	return t, nil
}

func encodePages(pages []int) (string, error) {
	if pages == nil {
		pages = []int{}
	}
	b, err := json.Marshal(pages)
	if err != nil {
		return "", fmt.Errorf("encode missing pages: %w", err)
	}
	return string(b), nil
}

func decodePages(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var pages []int
	if err := json.Unmarshal([]byte(s), &pages); err != nil {
		return nil, fmt.Errorf("decode missing pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return pages, nil
}
