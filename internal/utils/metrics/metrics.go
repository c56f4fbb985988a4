package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	CreditGrantsTotal     *prometheus.CounterVec
	CreditConsumesTotal   *prometheus.CounterVec
	AdmissionDenials      prometheus.Counter
	DuplicateEffectsTotal *prometheus.CounterVec

	// Ingress metrics
	WebhookEventsTotal  *prometheus.CounterVec
	CallbackEventsTotal *prometheus.CounterVec

	// Provider metrics
	ProviderCallsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "themeforge"
	}

	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		CreditGrantsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "credit_grants_total",
				Help:      "Credit grant attempts by outcome",
			},
			[]string{"outcome"},
		),
		CreditConsumesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "credit_consumes_total",
				Help:      "Credit consume attempts by outcome",
			},
			[]string{"outcome"},
		),
		AdmissionDenials: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "admission_denials_total",
				Help:      "Generation requests denied at admission",
			},
		),
		DuplicateEffectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ledger",
				Name:      "duplicate_effects_total",
				Help:      "Effects absorbed by the idempotency guard",
			},
			[]string{"kind"},
		),
		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingress",
				Name:      "webhook_events_total",
				Help:      "Webhook events by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		CallbackEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingress",
				Name:      "callback_events_total",
				Help:      "Return-callback events by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ProviderCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Outbound payment provider calls by provider and outcome",
			},
			[]string{"provider", "operation", "outcome"},
		),
	}
}
