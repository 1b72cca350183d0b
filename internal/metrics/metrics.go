// Package metrics exposes Prometheus metrics for the settlement engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the engine's collectors. A nil *Manager is valid and records
// nothing, so components can take one unconditionally.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	cycles             *prometheus.CounterVec
	cycleDuration      prometheus.Histogram
	predictions        *prometheus.CounterVec
	modelFailures      *prometheus.CounterVec
	roundsResolved     prometheus.Counter
	outcomes           *prometheus.CounterVec
	bids               *prometheus.CounterVec
	disbursements      *prometheus.CounterVec
	ledgerLatency      prometheus.Histogram
	multiplier         *prometheus.GaugeVec
	winRate            *prometheus.GaugeVec
	httpRequests       *prometheus.CounterVec
	httpRequestLatency *prometheus.HistogramVec
}

// Option configures a Manager.
type Option func(*Manager)

// WithNamespace sets the metric namespace.
func WithNamespace(ns string) Option {
	return func(m *Manager) {
		if ns != "" {
			m.namespace = ns
		}
	}
}

// WithRegistry registers collectors on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.registry = reg
		}
	}
}

// WithHistogramBuckets overrides the latency buckets (seconds).
func WithHistogramBuckets(b []float64) Option {
	return func(m *Manager) {
		if len(b) > 0 {
			m.buckets = b
		}
	}
}

// New creates a Manager with its own registry carrying the Go and process
// collectors.
func New(opts ...Option) *Manager {
	m := &Manager{
		namespace: "arena",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.init()
	return m
}

func (m *Manager) init() {
	auto := promauto.With(m.registry)

	m.cycles = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "cycles_total",
		Help:      "Settlement cycles run, by result.",
	}, []string{"result"})

	m.cycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one settlement cycle.",
		Buckets:   m.buckets,
	})

	m.predictions = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "predictions_recorded_total",
		Help:      "Prediction records inserted, by model.",
	}, []string{"model"})

	m.modelFailures = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "model_failures_total",
		Help:      "Models that produced no usable prediction, by model.",
	}, []string{"model"})

	m.roundsResolved = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "rounds_resolved_total",
		Help:      "Rounds moved to resolved.",
	})

	m.outcomes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "prediction_outcomes_total",
		Help:      "Graded predictions, by model and outcome.",
	}, []string{"model", "outcome"})

	m.bids = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "bids_settled_total",
		Help:      "Bids moved to a terminal status, by status.",
	}, []string{"status"})

	m.disbursements = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "disbursements_total",
		Help:      "Ledger payouts attempted, by result.",
	}, []string{"result"})

	m.ledgerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "ledger_request_duration_seconds",
		Help:      "Latency of ledger payout calls.",
		Buckets:   m.buckets,
	})

	m.multiplier = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "payout_multiplier",
		Help:      "Most recent frozen payout multiplier, by model.",
	}, []string{"model"})

	m.winRate = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "model_win_rate",
		Help:      "Rolling win rate used for the most recent multiplier, by model.",
	}, []string{"model"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})

	m.httpRequestLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and method.",
		Buckets:   m.buckets,
	}, []string{"route", "method"})
}

// Registry returns the registry the collectors live on.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCycle records one cycle and its outcome.
func (m *Manager) ObserveCycle(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "partial"
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// CycleFailed records a cycle aborted by an unrecoverable error.
func (m *Manager) CycleFailed() {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues("error").Inc()
}

// PredictionRecorded records a stored prediction and the odds it froze.
func (m *Manager) PredictionRecorded(model string, winRate, multiplier float64) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(model).Inc()
	m.winRate.WithLabelValues(model).Set(winRate)
	m.multiplier.WithLabelValues(model).Set(multiplier)
}

// ModelFailed records a model that produced no prediction.
func (m *Manager) ModelFailed(model string) {
	if m == nil {
		return
	}
	m.modelFailures.WithLabelValues(model).Inc()
}

// PredictionGraded records one graded prediction.
func (m *Manager) PredictionGraded(model, outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(model, outcome).Inc()
}

// RoundResolved records a round reaching resolved.
func (m *Manager) RoundResolved() {
	if m == nil {
		return
	}
	m.roundsResolved.Inc()
}

// BidSettled records a bid reaching a terminal status.
func (m *Manager) BidSettled(status string) {
	if m == nil {
		return
	}
	m.bids.WithLabelValues(status).Inc()
}

// Disbursed records one ledger call.
func (m *Manager) Disbursed(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "paid"
	if !ok {
		result = "failed"
	}
	m.disbursements.WithLabelValues(result).Inc()
	m.ledgerLatency.Observe(d.Seconds())
}

// HTTPRequest records one served request.
func (m *Manager) HTTPRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpRequestLatency.WithLabelValues(route, method).Observe(d.Seconds())
}
