package task

import "context"

type Filter struct {
	Source string
	Status Status
	Limit  int
}

// Repository owns task rows. Status transitions are compare-and-set: every
// Mark* method only applies when the row is still in the expected status, so
// two processes sharing one database never double-apply a transition.
type Repository interface {
	// Upsert inserts the task if its key is absent and reports whether a row
	// was created. Existing rows are left untouched.
	Upsert(ctx context.Context, t *Task) (bool, error)
	Get(ctx context.Context, key string) (*Task, error)
	List(ctx context.Context, f Filter) ([]Task, error)
	// Active returns fetching and partial tasks, the ones that may still
	// have pages outstanding.
	Active(ctx context.Context) ([]Task, error)
	// ClaimPending atomically moves one pending task to discovering and
	// returns it, or nil when no pending task exists.
	ClaimPending(ctx context.Context) (*Task, error)
	// MarkDiscovered records page totals on a discovering task and moves it
	// to fetching, or straight to complete when no pages are missing.
	MarkDiscovered(ctx context.Context, key string, totalPages, totalRecords int, missing []int) error
	// MarkFetching moves a partial task back to fetching and reports whether
	// the transition applied.
	MarkFetching(ctx context.Context, key string) (bool, error)
	MarkFailed(ctx context.Context, key, reason string) error
	// SetLastError records a page-level failure on the task without touching
	// its status.
	SetLastError(ctx context.Context, key, reason string) error
	// SetMissingPages replaces the missing set on a fetching or partial task
	// and settles its status: partial while pages remain, complete when none do.
	SetMissingPages(ctx context.Context, key string, missing []int, status Status) error
	// RecoverStale resets discovering tasks back to pending. Called once at
	// startup before any claims happen.
	RecoverStale(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[Status]int64, error)
}
