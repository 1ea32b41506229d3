package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/franklinbaldo/baliza-sub001/internal/metrics"
	"github.com/franklinbaldo/baliza-sub001/internal/source"
	"github.com/franklinbaldo/baliza-sub001/internal/task"
)

const dateFormat = "2006-01-02"

// Planner materializes the task matrix for a date range: one task per
// source, month bucket and parameter value. Inserts are keyed on the task's
// natural key, so planning the same range twice creates nothing new.
type Planner struct {
	tasks   task.Repository
	sources []source.Source
	metrics *metrics.Metrics
}

func New(tasks task.Repository, sources []source.Source, m *metrics.Metrics) *Planner {
	return &Planner{tasks: tasks, sources: sources, metrics: m}
}

type Result struct {
	Created  int
	Existing int
}

func (p *Planner) Plan(ctx context.Context, from, to time.Time) (Result, error) {
	var res Result
	if from.IsZero() || to.IsZero() {
		return res, fmt.Errorf("plan: date range is required")
	}
	if from.After(to) {
		return res, fmt.Errorf("plan: start date %s is after end date %s",
			from.Format(dateFormat), to.Format(dateFormat))
	}

	buckets := source.MonthBuckets(from, to)
	for _, src := range p.sources {
		for _, b := range buckets {
			for _, val := range src.ParamValues() {
				t := task.New(src.Name, b.Start, b.End, src.PageSize, src.ParamName(), val)
				created, err := p.tasks.Upsert(ctx, t)
				if err != nil {
					return res, fmt.Errorf("plan %s: %w", t.Key, err)
				}
				if created {
					res.Created++
					p.metrics.TasksPlanned.Inc()
				} else {
					res.Existing++
				}
			}
		}
	}

	slog.Info("planned extraction window",
		"from", from.Format(dateFormat), "to", to.Format(dateFormat),
		"created", res.Created, "existing", res.Existing)
	return res, nil
}
