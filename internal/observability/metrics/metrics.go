// Package metrics registers the prometheus collectors the core exposes on
// the admin surface (internal/observability/admin).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the core updates. Construct once per
// process and pass down to the components that update it.
type Metrics struct {
	BreakerState          *prometheus.GaugeVec
	BreakerFailuresTotal   *prometheus.CounterVec
	PoolIdle               *prometheus.GaugeVec
	PoolInUse              *prometheus.GaugeVec
	SchedulerActive        prometheus.Gauge
	SchedulerQueued        prometheus.Gauge
	QueueRotationsTotal    prometheus.Counter
	QueueEventsTotal       *prometheus.CounterVec
	InsightCacheHitRatio   prometheus.Gauge
	AccountHealthScore     *prometheus.GaugeVec
}

// New registers every collector against registry and returns the bundle.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biproxy_breaker_state",
			Help: "Current breaker state per account (0=CLOSED,1=OPEN,2=HALF_OPEN).",
		}, []string{"account"}),
		BreakerFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biproxy_breaker_failures_total",
			Help: "Total failures recorded per account breaker.",
		}, []string{"account"}),
		PoolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biproxy_pool_idle_connections",
			Help: "Idle connections per account pool.",
		}, []string{"account"}),
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biproxy_pool_in_use_connections",
			Help: "In-use connections per account pool.",
		}, []string{"account"}),
		SchedulerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biproxy_scheduler_active_tickets",
			Help: "Tickets currently RUNNING.",
		}),
		SchedulerQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biproxy_scheduler_queued_tickets",
			Help: "Tickets currently PENDING.",
		}),
		QueueRotationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "biproxy_event_queue_rotations_total",
			Help: "Total NDJSON file rotations.",
		}),
		QueueEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "biproxy_event_queue_events_total",
			Help: "Total events pushed, by outcome.",
		}, []string{"outcome"}),
		InsightCacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "biproxy_insight_cache_hit_ratio",
			Help: "Fraction of insight queries served from the in-memory ring.",
		}),
		AccountHealthScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "biproxy_account_health_score",
			Help: "Current vault-reported health score per account.",
		}, []string{"account"}),
	}

	registry.MustRegister(
		m.BreakerState, m.BreakerFailuresTotal,
		m.PoolIdle, m.PoolInUse,
		m.SchedulerActive, m.SchedulerQueued,
		m.QueueRotationsTotal, m.QueueEventsTotal,
		m.InsightCacheHitRatio, m.AccountHealthScore,
	)
	return m
}
