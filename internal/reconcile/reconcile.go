package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/franklinbaldo/baliza-sub001/internal/apperror"
	"github.com/franklinbaldo/baliza-sub001/internal/attempt"
	"github.com/franklinbaldo/baliza-sub001/internal/metrics"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

// Reconciler is the only component that shrinks a task's missing set. It
// recomputes the set from the attempt log on every pass, so task rows can
// always be rebuilt from ground truth.
type Reconciler struct {
	tasks          task.Repository
	attempts       attempt.Repository
	metrics        *metrics.Metrics
	stallThreshold int

	mu        sync.Mutex
	unchanged map[string]int
}

type Result struct {
	Examined  int
	Shrunk    int
	Completed int
	Stalled   int
}

func New(tasks task.Repository, attempts attempt.Repository, m *metrics.Metrics, stallThreshold int) *Reconciler {
	if stallThreshold < 1 {
		stallThreshold = 3
	}
	return &Reconciler{
		tasks:          tasks,
		attempts:       attempts,
		metrics:        m,
		stallThreshold: stallThreshold,
		unchanged:      make(map[string]int),
	}
}

// Pass settles every active task against the attempt log once.
func (r *Reconciler) Pass(ctx context.Context) (Result, error) {
	var res Result

	active, err := r.tasks.Active(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}

	for _, t := range active {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if t.TotalPages == nil {
			slog.Error("active task has no page count", "task", t.Key, "status", t.Status)
			continue
		}
		res.Examined++

		landed, err := r.attempts.LandedPages(ctx, t.Key)
		if err != nil {
			return res, fmt.Errorf("reconcile %s: %w", t.Key, err)
		}
		missing := missingPages(*t.TotalPages, landed)

		// The attempt log only gains landed pages, so the recomputed set can
		// only shrink relative to the stored one.
		if len(t.MissingPages) > 0 && len(missing) > len(t.MissingPages) {
			slog.Error("recomputed missing set grew; leaving row unchanged",
				"task", t.Key, "stored", len(t.MissingPages), "recomputed", len(missing))
			continue
		}

		switch {
		case len(missing) == 0:
			if err := r.set(ctx, t.Key, nil, task.StatusComplete); err != nil {
				return res, err
			}
			res.Completed++
			r.forget(t.Key)
			slog.Info("task complete", "task", t.Key, "totalPages", *t.TotalPages)
		case !slices.Equal(missing, t.MissingPages):
			if err := r.set(ctx, t.Key, missing, task.StatusPartial); err != nil {
				return res, err
			}
			res.Shrunk++
			r.forget(t.Key)
		default:
			if t.Status == task.StatusFetching {
				if err := r.set(ctx, t.Key, missing, task.StatusPartial); err != nil {
					return res, err
				}
			}
			if n := r.bump(t.Key); n >= r.stallThreshold {
				res.Stalled++
				if n == r.stallThreshold {
					slog.Warn("task stalled", "task", t.Key, "missing", len(missing), "passes", n)
				}
			}
		}
	}

	r.metrics.ReconcilePasses.Inc()
	r.metrics.StalledTasks.Set(float64(res.Stalled))
	return res, nil
}

func (r *Reconciler) set(ctx context.Context, key string, missing []int, status task.Status) error {
	err := r.tasks.SetMissingPages(ctx, key, missing, status)
	if err == nil {
		return nil
	}
	var ae *apperror.AppError
	if errors.As(err, &ae) && ae.Code() == apperror.Conflict {
		slog.Warn("task changed status mid-pass", "task", key)
		return nil
	}
	return fmt.Errorf("reconcile %s: %w", key, err)
}

func (r *Reconciler) bump(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unchanged[key]++
	return r.unchanged[key]
}

func (r *Reconciler) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.unchanged, key)
}

func missingPages(total int, landed []int) []int {
	if total <= 0 {
		return nil
	}
	seen := make(map[int]bool, len(landed))
	for _, p := range landed {
		seen[p] = true
	}
	var missing []int
	for p := 1; p <= total; p++ {
		if !seen[p] {
			missing = append(missing, p)
		}
	}
	return missing
}
