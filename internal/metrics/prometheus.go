package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Tenant connection manager
	TenantResolves     *prometheus.CounterVec
	TenantOpenDuration prometheus.Histogram
	TenantsCached      prometheus.Gauge

	// Note lifecycle
	NoteTransitions *prometheus.CounterVec
	LockConflicts   prometheus.Counter

	// Fan-out
	FanoutDelivered *prometheus.CounterVec
	FanoutDropped   *prometheus.CounterVec
	Subscribers     prometheus.Gauge

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. A nil registerer leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TenantResolves: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_tenant_resolves_total",
				Help: "Tenant handle resolutions by result",
			},
			[]string{"result"},
		),

		TenantOpenDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "parley_tenant_open_duration_seconds",
				Help:    "Time spent opening and bootstrapping a tenant partition",
				Buckets: prometheus.DefBuckets,
			},
		),

		TenantsCached: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_tenants_cached",
				Help: "Number of tenant handles held by the connection manager",
			},
		),

		NoteTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_note_transitions_total",
				Help: "Note lifecycle transitions",
			},
			[]string{"transition"},
		),

		LockConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "parley_note_lock_conflicts_total",
				Help: "Lock attempts rejected because another moderator holds the note",
			},
		),

		FanoutDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_fanout_delivered_total",
				Help: "Events queued to subscribers",
			},
			[]string{"kind"},
		),

		FanoutDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_fanout_dropped_total",
				Help: "Events dropped because a subscriber buffer was full",
			},
			[]string{"kind"},
		),

		Subscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "parley_fanout_subscribers",
				Help: "Connected real-time subscribers",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "parley_http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parley_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}
