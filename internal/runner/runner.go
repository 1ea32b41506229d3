package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/franklinbaldo/baliza-sub001/internal/discovery"
	"github.com/franklinbaldo/baliza-sub001/internal/fetch"
	"github.com/franklinbaldo/baliza-sub001/internal/metrics"
	"github.com/franklinbaldo/baliza-sub001/internal/planner"
	"github.com/franklinbaldo/baliza-sub001/internal/reconcile"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

const dateFormat = "2006-01-02"

// Runner executes one extraction run end to end: recover stale claims,
// settle task rows against the attempt log, plan the window, then discover
// and fetch concurrently until the queue drains.
type Runner struct {
	tasks      task.Repository
	planner    *planner.Planner
	discovery  *discovery.Worker
	executor   *fetch.Executor
	reconciler *reconcile.Reconciler
	metrics    *metrics.Metrics
	from, to   time.Time

	reconcileInterval time.Duration
}

func New(
	tasks task.Repository,
	p *planner.Planner,
	d *discovery.Worker,
	e *fetch.Executor,
	r *reconcile.Reconciler,
	m *metrics.Metrics,
	from, to time.Time,
	opts ...Option,
) *Runner {
	run := &Runner{
		tasks:             tasks,
		planner:           p,
		discovery:         d,
		executor:          e,
		reconciler:        r,
		metrics:           m,
		from:              from,
		to:                to,
		reconcileInterval: 30 * time.Second,
	}
	for _, o := range opts {
		o(run)
	}
	return run
}

type Option func(*Runner)

// WithReconcileInterval sets how often task rows are settled against the
// attempt log while fetching is in progress. Zero disables the periodic
// pass; rows are then settled only between fetch rounds and at the end.
func WithReconcileInterval(d time.Duration) Option {
	return func(r *Runner) { r.reconcileInterval = d }
}

type Summary struct {
	RunID    string                `json:"runId"`
	Created  int                   `json:"created"`
	Existing int                   `json:"existing"`
	Counts   map[task.Status]int64 `json:"counts"`
	Duration time.Duration         `json:"duration"`
}

func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	runID := uuid.NewString()
	started := time.Now()
	slog.Info("starting extraction run", "runId", runID,
		"from", r.from.Format(dateFormat), "to", r.to.Format(dateFormat))

	recovered, err := r.tasks.RecoverStale(ctx)
	if err != nil {
		return nil, err
	}
	if recovered > 0 {
		slog.Info("recovered stale claims", "count", recovered)
	}

	// Settle rows left behind by a previous process before planning on top
	// of them.
	if _, err := r.reconciler.Pass(ctx); err != nil {
		return nil, err
	}

	plan, err := r.planner.Plan(ctx, r.from, r.to)
	if err != nil {
		return nil, err
	}

	discoveryDone := make(chan struct{})
	fetchDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(discoveryDone)
		return r.discovery.Run(gctx, runID)
	})
	g.Go(func() error {
		defer close(fetchDone)
		return r.executor.Run(gctx, runID, discoveryDone)
	})
	if r.reconcileInterval > 0 {
		g.Go(func() error {
			return r.settleLoop(gctx, fetchDone)
		})
	}
	runErr := g.Wait()

	// The final settle gets a fresh context so a cancelled run still leaves
	// accurate rows behind.
	settleCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		settleCtx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
	}
	if _, err := r.reconciler.Pass(settleCtx); err != nil {
		slog.Error("final reconcile pass", "error", err)
	}

	summary := &Summary{
		RunID:    runID,
		Created:  plan.Created,
		Existing: plan.Existing,
		Duration: time.Since(started),
	}
	counts, err := r.tasks.CountByStatus(settleCtx)
	if err != nil {
		slog.Error("count tasks", "error", err)
	} else {
		summary.Counts = counts
		for status, n := range counts {
			r.metrics.TasksByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return summary, runErr
	}

	slog.Info("extraction run finished", "runId", runID,
		"duration", summary.Duration.Round(time.Millisecond),
		"created", summary.Created, "counts", summary.Counts)
	return summary, nil
}

// settleLoop keeps long fetch rounds honest: progress lands in task rows on
// a timer, not only between rounds, so an interrupted run loses at most one
// interval of bookkeeping (never captures, which are already durable).
func (r *Runner) settleLoop(ctx context.Context, fetchDone <-chan struct{}) error {
	ticker := time.NewTicker(r.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fetchDone:
			return nil
		case <-ticker.C:
			if _, err := r.reconciler.Pass(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				slog.Error("periodic reconcile pass", "error", err)
			}
		}
	}
}
