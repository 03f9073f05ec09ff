package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors. All recording methods
// are safe on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	guardDecisions  *prometheus.CounterVec
	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	httpResponses   *prometheus.CounterVec
	outboxPublished prometheus.Counter
	outboxFailed    prometheus.Counter
	outboxPending   prometheus.Gauge
}

// New creates and registers all collectors with registry.
func New(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		guardDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmgw_guard_decisions_total",
				Help: "Access guard decisions by guard and outcome",
			},
			[]string{"guard", "outcome"},
		),
		providerCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmgw_provider_calls_total",
				Help: "Email provider calls by provider, operation and outcome",
			},
			[]string{"provider", "operation", "outcome"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crmgw_provider_call_duration_seconds",
				Help:    "Email provider call latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "operation"},
		),
		httpResponses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crmgw_http_responses_total",
				Help: "HTTP responses by route and status",
			},
			[]string{"route", "status"},
		),
		outboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmgw_outbox_published_total",
			Help: "Activity events published from the outbox",
		}),
		outboxFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crmgw_outbox_publish_failures_total",
			Help: "Failed outbox publish attempts",
		}),
		outboxPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "crmgw_outbox_pending",
			Help: "Activity events not yet published",
		}),
	}
}

func (m *Metrics) GuardDecision(guard, outcome string) {
	if m == nil {
		return
	}
	m.guardDecisions.WithLabelValues(guard, outcome).Inc()
}

// ProviderCall records one adapter call. outcome is "ok" or an error class.
func (m *Metrics) ProviderCall(provider, operation, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation, outcome).Inc()
	m.providerLatency.WithLabelValues(provider, operation).Observe(took.Seconds())
}

func (m *Metrics) HTTPResponse(route string, status int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpResponses.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) OutboxPublished() {
	if m == nil {
		return
	}
	m.outboxPublished.Inc()
}

func (m *Metrics) OutboxFailed() {
	if m == nil {
		return
	}
	m.outboxFailed.Inc()
}

func (m *Metrics) OutboxPending(n int) {
	if m == nil {
		return
	}
	m.outboxPending.Set(float64(n))
}
