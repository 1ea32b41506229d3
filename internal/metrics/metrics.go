package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries the process counters on a private registry, so tests can
// construct as many independent instances as they need.
type Metrics struct {
	registry *prometheus.Registry

	TasksPlanned    prometheus.Counter
	Discoveries     *prometheus.CounterVec
	PageFetches     *prometheus.CounterVec
	PayloadBytes    prometheus.Counter
	PayloadDedup    prometheus.Counter
	BreakerOpens    prometheus.Counter
	ReconcilePasses prometheus.Counter
	StalledTasks    prometheus.Gauge
	TasksByStatus   *prometheus.GaugeVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksPlanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "baliza_tasks_planned_total",
			Help: "Tasks inserted by the planner.",
		}),
		Discoveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "baliza_discoveries_total",
			Help: "Discovery outcomes by result.",
		}, []string{"outcome"}),
		PageFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "baliza_page_fetches_total",
			Help: "Page fetch outcomes by result.",
		}, []string{"outcome"}),
		PayloadBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "baliza_payload_bytes_total",
			Help: "Bytes of new payload content stored.",
		}),
		PayloadDedup: factory.NewCounter(prometheus.CounterOpts{
			Name: "baliza_payload_dedup_total",
			Help: "Stores that matched an already stored payload.",
		}),
		BreakerOpens: factory.NewCounter(prometheus.CounterOpts{
			Name: "baliza_breaker_opens_total",
			Help: "Times the circuit breaker opened.",
		}),
		ReconcilePasses: factory.NewCounter(prometheus.CounterOpts{
			Name: "baliza_reconcile_passes_total",
			Help: "Reconcile passes over active tasks.",
		}),
		StalledTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "baliza_stalled_tasks",
			Help: "Active tasks whose missing pages have stopped shrinking.",
		}),
		TasksByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "baliza_tasks",
			Help: "Tasks by status.",
		}, []string{"status"}),
	}
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
