package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/franklinbaldo/baliza-sub001/internal/attempt"
	"github.com/franklinbaldo/baliza-sub001/internal/metrics"
	"github.com/franklinbaldo/baliza-sub001/internal/payload"
	"github.com/franklinbaldo/baliza-sub001/internal/pncp"
	"github.com/franklinbaldo/baliza-sub001/internal/reconcile"
	"github.com/franklinbaldo/baliza-sub001/internal/retry"
	"github.com/franklinbaldo/baliza-sub001/internal/source"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

// Settler settles task rows against the attempt log between fetch rounds.
type Settler interface {
	Pass(ctx context.Context) (reconcile.Result, error)
}

// Executor drains the missing pages of active tasks in rounds. Each round
// fans out over every missing page with bounded concurrency, records an
// attempt per page, then asks the settler to shrink the missing sets. The
// executor itself never edits a missing set.
type Executor struct {
	tasks    task.Repository
	attempts attempt.Repository
	payloads payload.Store
	client   *pncp.Client
	sources  map[string]source.Source
	settler  Settler
	breaker  *Breaker
	policy   retry.Policy
	metrics  *metrics.Metrics

	maxInFlight   int
	maxIdleRounds int
	pollInterval  time.Duration
	notify        chan struct{}
}

func NewExecutor(
	tasks task.Repository,
	attempts attempt.Repository,
	payloads payload.Store,
	client *pncp.Client,
	sources map[string]source.Source,
	settler Settler,
	breaker *Breaker,
	policy retry.Policy,
	m *metrics.Metrics,
	opts ...Option,
) *Executor {
	e := &Executor{
		tasks:         tasks,
		attempts:      attempts,
		payloads:      payloads,
		client:        client,
		sources:       sources,
		settler:       settler,
		breaker:       breaker,
		policy:        policy,
		metrics:       m,
		maxInFlight:   8,
		maxIdleRounds: 2,
		pollInterval:  2 * time.Second,
		notify:        make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type Option func(*Executor)

func WithMaxInFlight(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxInFlight = n
		}
	}
}

func WithMaxIdleRounds(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxIdleRounds = n
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// Notify wakes the run loop without waiting for the poll ticker.
func (e *Executor) Notify() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

// Run fetches rounds until every active task settles, or until rounds stop
// making progress. discoveryDone tells the loop when no new tasks will
// arrive; until then an empty queue means wait, not stop.
func (e *Executor) Run(ctx context.Context, runID string, discoveryDone <-chan struct{}) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// done turns nil once discovery finishes; a nil channel never fires, so
	// the already-closed channel cannot spin the waits below.
	done := discoveryDone
	discovering := true
	idle := 0
	for {
		queued, err := e.runRound(ctx, runID)
		if err != nil {
			return err
		}
		res, err := e.settler.Pass(ctx)
		if err != nil {
			return err
		}

		if discovering {
			select {
			case <-done:
				discovering = false
				done = nil
			default:
			}
		}

		switch {
		case queued == 0:
			idle = 0
			if !discovering {
				return nil
			}
		case res.Shrunk == 0 && res.Completed == 0:
			idle++
			if !discovering && idle >= e.maxIdleRounds {
				slog.Warn("no fetch progress; leaving remaining pages for a future run",
					"rounds", idle, "outstandingPages", queued)
				return nil
			}
		default:
			idle = 0
		}

		// Wait when there is nothing to do, or when the last round made no
		// progress, so pages that keep failing are not hammered back to back.
		if queued == 0 || idle > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.notify:
			case <-ticker.C:
			case <-done:
				discovering = false
				done = nil
			}
		}
	}
}

type pageJob struct {
	t    task.Task
	path string
	page int
}

func (e *Executor) runRound(ctx context.Context, runID string) (int, error) {
	active, err := e.tasks.Active(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch round: %w", err)
	}

	var jobs []pageJob
	for _, t := range active {
		if len(t.MissingPages) == 0 {
			continue
		}
		src, ok := e.sources[t.Source]
		if !ok {
			slog.Error("task references unknown source", "task", t.Key, "source", t.Source)
			continue
		}
		if t.Status == task.StatusPartial {
			ok, err := e.tasks.MarkFetching(ctx, t.Key)
			if err != nil {
				slog.Error("mark fetching", "task", t.Key, "error", err)
				continue
			}
			// A lost race means the settler already closed the task out.
			if !ok {
				continue
			}
		}
		for _, p := range t.MissingPages {
			jobs = append(jobs, pageJob{t: t, path: src.Path, page: p})
		}
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	slog.Info("fetch round", "tasks", len(active), "pages", len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxInFlight)
	for _, j := range jobs {
		g.Go(func() error {
			e.fetchPage(gctx, runID, j)
			return nil
		})
	}
	_ = g.Wait()

	return len(jobs), ctx.Err()
}

func (e *Executor) fetchPage(ctx context.Context, runID string, j pageJob) {
	var res *pncp.Page
	err := e.policy.Do(ctx, pncp.Retryable, func(ctx context.Context) error {
		if err := e.breaker.Wait(ctx); err != nil {
			return err
		}
		p, err := e.client.FetchPage(ctx, pncp.PageRequest{
			Path:       j.path,
			DateStart:  j.t.BucketStart,
			DateEnd:    j.t.BucketEnd,
			Page:       j.page,
			PageSize:   j.t.PageSize,
			ParamName:  j.t.ParamName,
			ParamValue: j.t.ParamValue,
		})
		if err != nil {
			if pncp.Retryable(err) {
				e.breaker.ReportFailure()
			}
			return err
		}
		e.breaker.ReportSuccess()
		res = p
		return nil
	})

	a := &attempt.Attempt{RunID: runID, TaskKey: j.t.Key, Page: j.page}
	switch {
	case err == nil:
		hash, created, perr := e.payloads.Put(ctx, res.Body)
		if perr != nil {
			slog.Error("store payload", "task", j.t.Key, "page", j.page, "error", perr)
			a.StatusCode = http.StatusOK
			a.Error = perr.Error()
			break
		}
		a.StatusCode = http.StatusOK
		a.OK = true
		a.PayloadHash = hash
		e.metrics.PageFetches.WithLabelValues("ok").Inc()
		if created {
			e.metrics.PayloadBytes.Add(float64(len(res.Body)))
		} else {
			e.metrics.PayloadDedup.Inc()
		}
	case errors.Is(err, pncp.ErrPageNotFound), errors.Is(err, pncp.ErrNoContent):
		// The result set ended earlier than discovery estimated; the page is
		// done with nothing to store.
		a.StatusCode = pncp.StatusCode(err)
		a.OK = true
		e.metrics.PageFetches.WithLabelValues("not_found").Inc()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	default:
		a.StatusCode = pncp.StatusCode(err)
		a.Error = err.Error()
		e.metrics.PageFetches.WithLabelValues("error").Inc()
		slog.Warn("page fetch failed", "task", j.t.Key, "page", j.page, "status", a.StatusCode, "error", err)
		if !pncp.Retryable(err) {
			if serr := e.tasks.SetLastError(ctx, j.t.Key, fmt.Sprintf("page %d: %v", j.page, err)); serr != nil {
				slog.Error("set last error", "task", j.t.Key, "error", serr)
			}
		}
	}

	if rerr := e.attempts.Record(ctx, a); rerr != nil {
		slog.Error("record attempt", "task", j.t.Key, "page", j.page, "error", rerr)
	}
}
