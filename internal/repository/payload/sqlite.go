package payload

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/franklinbaldo/baliza-sub001/internal/payload"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Put(ctx context.Context, body []byte) (string, bool, error) {
	hash := domain.Hash(body)

	// Content-addressed insert: a duplicate body only bumps the reference
	// count, atomically, in the same statement.
	const query = `INSERT INTO payloads (hash, body, size) VALUES (?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET ref_count = ref_count + 1
		RETURNING ref_count`

	var refs int64
	err := r.db.QueryRowContext(ctx, query, hash, body, len(body)).Scan(&refs)
	if err != nil {
		return "", false, fmt.Errorf("put payload: %w", err)
	}
	return hash, refs == 1, nil
}

func (r *Repository) Get(ctx context.Context, hash string) (*domain.Payload, error) {
	const query = `SELECT hash, body, size, ref_count, first_seen FROM payloads WHERE hash = ?`

	p := &domain.Payload{}
	var firstSeenStr string
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&p.Hash, &p.Body, &p.Size, &p.RefCount, &firstSeenStr,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payload: %w", err)
	}
	p.FirstSeen, _ = time.Parse(time.RFC3339, firstSeenStr)
	return p, nil
}

func (r *Repository) Stats(ctx context.Context) (domain.Stats, error) {
	const query = `SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(ref_count), 0) FROM payloads`

	var s domain.Stats
	err := r.db.QueryRowContext(ctx, query).Scan(&s.Count, &s.TotalBytes, &s.TotalRefs)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("payload stats: %w", err)
	}
	return s, nil
}
