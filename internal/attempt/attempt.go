package attempt

import (
	"context"
	"time"
)

// Attempt is one fetch of one page. The log is append-only: rows are never
// updated or deleted, so it stays the ground truth for what actually landed.
type Attempt struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"runId"`
	TaskKey     string    `json:"taskKey"`
	Page        int       `json:"page"`
	StatusCode  int       `json:"statusCode"`
	OK          bool      `json:"ok"`
	PayloadHash string    `json:"payloadHash,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Landed is a successfully captured page joined to its stored payload.
type Landed struct {
	Page        int       `json:"page"`
	PayloadHash string    `json:"payloadHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Repository interface {
	Record(ctx context.Context, a *Attempt) error
	// LandedPages returns the distinct pages of a task with at least one
	// successful attempt, in ascending order.
	LandedPages(ctx context.Context, taskKey string) ([]int, error)
	// Landed returns one row per landed page, keeping the earliest
	// successful attempt's payload hash.
	Landed(ctx context.Context, taskKey string) ([]Landed, error)
	ListByTask(ctx context.Context, taskKey string, limit int) ([]Attempt, error)
	CountByTask(ctx context.Context, taskKey string) (int64, error)
}
