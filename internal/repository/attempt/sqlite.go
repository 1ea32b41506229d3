package attempt

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/franklinbaldo/baliza-sub001/internal/attempt"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Record appends one attempt. There is deliberately no update or delete
// counterpart anywhere in this package.
func (r *Repository) Record(ctx context.Context, a *domain.Attempt) error {
	const query = `INSERT INTO attempts (run_id, task_key, page, status_code, ok, payload_hash, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var hash, errMsg sql.NullString
	if a.PayloadHash != "" {
		hash = sql.NullString{String: a.PayloadHash, Valid: true}
	}
	if a.Error != "" {
		errMsg = sql.NullString{String: a.Error, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		a.RunID, a.TaskKey, a.Page, a.StatusCode, a.OK, hash, errMsg,
	)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	a.ID, _ = res.LastInsertId()
	a.CreatedAt = time.Now().UTC()
	return nil
}

func (r *Repository) LandedPages(ctx context.Context, taskKey string) ([]int, error) {
	const query = `SELECT DISTINCT page FROM attempts
		WHERE task_key = ? AND ok = 1
		ORDER BY page ASC`

	rows, err := r.db.QueryContext(ctx, query, taskKey)
	if err != nil {
		return nil, fmt.Errorf("landed pages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pages []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (r *Repository) Landed(ctx context.Context, taskKey string) ([]domain.Landed, error) {
	const query = `SELECT page, payload_hash, created_at FROM landed_pages
		WHERE task_key = ?
		ORDER BY page ASC`

	rows, err := r.db.QueryContext(ctx, query, taskKey)
	if err != nil {
		return nil, fmt.Errorf("landed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var landed []domain.Landed
	for rows.Next() {
		var l domain.Landed
		var createdStr string
		if err := rows.Scan(&l.Page, &l.PayloadHash, &createdStr); err != nil {
			return nil, fmt.Errorf("scan landed: %w", err)
		}
		l.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		landed = append(landed, l)
	}
	return landed, rows.Err()
}

func (r *Repository) ListByTask(ctx context.Context, taskKey string, limit int) ([]domain.Attempt, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `SELECT id, run_id, task_key, page, status_code, ok, payload_hash, error, created_at
		FROM attempts WHERE task_key = ?
		ORDER BY id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, taskKey, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []domain.Attempt
	for rows.Next() {
		var a domain.Attempt
		var hash, errMsg sql.NullString
		var createdStr string
		if err := rows.Scan(
			&a.ID, &a.RunID, &a.TaskKey, &a.Page,
			&a.StatusCode, &a.OK, &hash, &errMsg, &createdStr,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if hash.Valid {
			a.PayloadHash = hash.String
		}
		if errMsg.Valid {
			a.Error = errMsg.String
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdStr)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (r *Repository) CountByTask(ctx context.Context, taskKey string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attempts WHERE task_key = ?`, taskKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}
