// Package metrics exposes prometheus collectors for the decision engine.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Decision engine
	ProposalsEvaluated *prometheus.CounterVec // labels: result
	RiskScores         prometheus.Histogram
	Transitions        *prometheus.CounterVec // labels: from, to
	InvalidTransitions prometheus.Counter
	LimitRejections    prometheus.Counter
	ApprovalDecisions  *prometheus.CounterVec // labels: rule_type, action
	OutboxPending      prometheus.Gauge
}

// New registers the engine collectors on a fresh registry.
func New(serviceName string) (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		ProposalsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "proposals_evaluated_total",
			Help:      "Proposal evaluations by decision result.",
		}, []string{"result"}),
		RiskScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Name:      "risk_score",
			Help:      "Distribution of computed risk scores.",
			Buckets:   []float64{0, 5, 10, 20, 30, 40, 60, 70, 100, 150, 250},
		}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "proposal_transitions_total",
			Help:      "Committed proposal status transitions.",
		}, []string{"from", "to"}),
		InvalidTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "invalid_transitions_total",
			Help:      "Rejected transition attempts.",
		}),
		LimitRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "limit_rejections_total",
			Help:      "Calculations outside product payout limits.",
		}),
		ApprovalDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "approval_decisions_total",
			Help:      "Dual-approval submissions by rule type and action.",
		}, []string{"rule_type", "action"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Name:      "outbox_pending",
			Help:      "Outbox rows waiting for relay.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ProposalsEvaluated,
		m.RiskScores,
		m.Transitions,
		m.InvalidTransitions,
		m.LimitRejections,
		m.ApprovalDecisions,
		m.OutboxPending,
	)
	return m, reg
}

// Handler returns the gin handler serving the registry.
func Handler(reg *prometheus.Registry) gin.HandlerFunc {
	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
