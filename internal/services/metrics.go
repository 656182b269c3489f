package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes engine counters to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	postings        *prometheus.CounterVec
	retries         *prometheus.CounterVec
	fraudEvaluated  *prometheus.CounterVec
	fraudFailures   prometheus.Counter
	driftedAccounts prometheus.Gauge
	accruals        prometheus.Counter
	interestPosted  prometheus.Counter
}

// NewMetrics creates the engine collectors and registers them with reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		postings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "postings_total",
				Help:      "Total number of posting attempts per kind and final status",
			},
			[]string{"kind", "status"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "posting_retries_total",
				Help:      "Total number of unit-of-work retries after a concurrent modification",
			},
			[]string{"kind"},
		),
		fraudEvaluated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fraud_evaluations_total",
				Help:      "Total number of fraud evaluations per severity and queue outcome",
			},
			[]string{"severity", "queued"},
		),
		fraudFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fraud_evaluation_failures_total",
				Help:      "Total number of post-commit fraud evaluations that failed",
			},
		),
		driftedAccounts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reconciliation_drifted_accounts",
				Help:      "Accounts whose materialized balance differed from the journal on the last check",
			},
		),
		accruals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interest_accruals_total",
				Help:      "Total number of daily interest accrual rows written",
			},
		),
		interestPosted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interest_postings_total",
				Help:      "Total number of monthly interest postings",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.postings, m.retries, m.fraudEvaluated, m.fraudFailures,
			m.driftedAccounts, m.accruals, m.interestPosted)
	}
	return m
}

func (m *Metrics) recordPosting(kind, status string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) recordRetry(kind string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(kind).Inc()
}

func (m *Metrics) recordFraud(severity string, queued bool) {
	if m == nil {
		return
	}
	q := "false"
	if queued {
		q = "true"
	}
	m.fraudEvaluated.WithLabelValues(severity, q).Inc()
}

func (m *Metrics) recordFraudFailure() {
	if m == nil {
		return
	}
	m.fraudFailures.Inc()
}

func (m *Metrics) recordDrift(n int) {
	if m == nil {
		return
	}
	m.driftedAccounts.Set(float64(n))
}

func (m *Metrics) recordAccruals(n int) {
	if m == nil {
		return
	}
	m.accruals.Add(float64(n))
}

func (m *Metrics) recordInterestPosting() {
	if m == nil {
		return
	}
	m.interestPosted.Inc()
}
