package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/franklinbaldo/baliza-sub001/internal/attempt"
	"github.com/franklinbaldo/baliza-sub001/internal/metrics"
	"github.com/franklinbaldo/baliza-sub001/internal/payload"
	"github.com/franklinbaldo/baliza-sub001/internal/pncp"
	"github.com/franklinbaldo/baliza-sub001/internal/retry"
	"github.com/franklinbaldo/baliza-sub001/internal/source"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

// Worker claims pending tasks and fetches page 1 of each to learn the page
// count. The probe page lands like any other capture, so it is never
// fetched twice.
type Worker struct {
	tasks    task.Repository
	attempts attempt.Repository
	payloads payload.Store
	client   *pncp.Client
	sources  map[string]source.Source
	policy   retry.Policy
	metrics  *metrics.Metrics
	workers  int
	notify   func()
}

func New(
	tasks task.Repository,
	attempts attempt.Repository,
	payloads payload.Store,
	client *pncp.Client,
	sources map[string]source.Source,
	policy retry.Policy,
	m *metrics.Metrics,
	opts ...Option,
) *Worker {
	w := &Worker{
		tasks:    tasks,
		attempts: attempts,
		payloads: payloads,
		client:   client,
		sources:  sources,
		policy:   policy,
		metrics:  m,
		workers:  2,
		notify:   func() {},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type Option func(*Worker)

func WithWorkers(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.workers = n
		}
	}
}

// WithNotify registers a callback invoked after each task becomes fetchable,
// so the fetch loop can start on it right away.
func WithNotify(fn func()) Option {
	return func(w *Worker) {
		if fn != nil {
			w.notify = fn
		}
	}
}

// Run drains every pending task and returns.
func (w *Worker) Run(ctx context.Context, runID string) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range w.workers {
		g.Go(func() error {
			return w.drain(gctx, runID, i)
		})
	}
	return g.Wait()
}

func (w *Worker) drain(ctx context.Context, runID string, id int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t, err := w.tasks.ClaimPending(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("discovery worker %d: %w", id, err)
		}
		if t == nil {
			return nil
		}

		w.discover(ctx, runID, t)
	}
}

func (w *Worker) discover(ctx context.Context, runID string, t *task.Task) {
	src, ok := w.sources[t.Source]
	if !ok {
		w.fail(ctx, t, fmt.Errorf("unknown source %q", t.Source))
		return
	}

	var res *pncp.Page
	err := w.policy.Do(ctx, pncp.Retryable, func(ctx context.Context) error {
		p, err := w.client.FetchPage(ctx, pncp.PageRequest{
			Path:       src.Path,
			DateStart:  t.BucketStart,
			DateEnd:    t.BucketEnd,
			Page:       1,
			PageSize:   t.PageSize,
			ParamName:  t.ParamName,
			ParamValue: t.ParamValue,
		})
		if err != nil {
			return err
		}
		res = p
		return nil
	})

	a := &attempt.Attempt{RunID: runID, TaskKey: t.Key, Page: 1}
	switch {
	case err == nil:
		hash, created, perr := w.payloads.Put(ctx, res.Body)
		if perr != nil {
			// A local store failure is not a task failure; the claim is
			// recovered on the next startup.
			slog.Error("store payload", "task", t.Key, "error", perr)
			return
		}
		a.StatusCode = http.StatusOK
		a.OK = true
		a.PayloadHash = hash
		if created {
			w.metrics.PayloadBytes.Add(float64(len(res.Body)))
		} else {
			w.metrics.PayloadDedup.Inc()
		}

		total := res.Envelope.Pages(t.PageSize)
		if total < 1 {
			total = 1
		}
		missing := make([]int, 0, total-1)
		for p := 2; p <= total; p++ {
			missing = append(missing, p)
		}

		// The probe attempt must land before the task row claims page 1 is
		// captured.
		if rerr := w.attempts.Record(ctx, a); rerr != nil {
			slog.Error("record attempt", "task", t.Key, "error", rerr)
			return
		}
		if merr := w.tasks.MarkDiscovered(ctx, t.Key, total, res.Envelope.TotalRegistros, missing); merr != nil {
			slog.Error("mark discovered", "task", t.Key, "error", merr)
			return
		}

		outcome := "fetching"
		if len(missing) == 0 {
			outcome = "complete"
		}
		w.metrics.Discoveries.WithLabelValues(outcome).Inc()
		slog.Info("discovered task", "task", t.Key,
			"totalPages", total, "totalRecords", res.Envelope.TotalRegistros, "missing", len(missing))
		w.notify()

	case errors.Is(err, pncp.ErrNoContent):
		a.StatusCode = pncp.StatusCode(err)
		a.OK = true
		if rerr := w.attempts.Record(ctx, a); rerr != nil {
			slog.Error("record attempt", "task", t.Key, "error", rerr)
			return
		}
		if merr := w.tasks.MarkDiscovered(ctx, t.Key, 0, 0, nil); merr != nil {
			slog.Error("mark discovered", "task", t.Key, "error", merr)
			return
		}
		w.metrics.Discoveries.WithLabelValues("empty").Inc()
		slog.Info("window has no records", "task", t.Key)

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return

	default:
		a.StatusCode = pncp.StatusCode(err)
		a.Error = err.Error()
		if rerr := w.attempts.Record(ctx, a); rerr != nil {
			slog.Error("record attempt", "task", t.Key, "error", rerr)
		}
		w.fail(ctx, t, err)
	}
}

func (w *Worker) fail(ctx context.Context, t *task.Task, cause error) {
	if err := w.tasks.MarkFailed(ctx, t.Key, cause.Error()); err != nil {
		slog.Error("mark failed", "task", t.Key, "error", err)
		return
	}
	w.metrics.Discoveries.WithLabelValues("failed").Inc()
	slog.Error("discovery failed", "task", t.Key, "error", cause)
}
