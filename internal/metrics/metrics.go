// Package metrics instruments the match analysis pipeline with Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jobmatch"

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	analyses        *prometheus.CounterVec
	quotaRejections *prometheus.CounterVec
	baseScore       prometheus.Histogram
	adjustedScore   prometheus.Histogram
	adjustment      prometheus.Histogram
	upstreamLatency *prometheus.HistogramVec
	tokens          prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	scoreBuckets := prometheus.LinearBuckets(10, 10, 10)

	m := &Metrics{
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_total",
			Help:      "Match analyses by outcome code.",
		}, []string{"outcome"}),
		quotaRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Calls rejected by the local quota tracker.",
		}, []string{"operation"}),
		baseScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "base_score",
			Help:      "Deterministic base scores.",
			Buckets:   scoreBuckets,
		}),
		adjustedScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adjusted_score",
			Help:      "Final scores after adjustment.",
			Buckets:   scoreBuckets,
		}),
		adjustment: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "adjustment",
			Help:      "Applied adjustments.",
			Buckets:   prometheus.LinearBuckets(-10, 2, 11),
		}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_seconds",
			Help:      "Latency of reasoning service calls, retries included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"provider", "outcome"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_tokens_total",
			Help:      "Tokens billed by the reasoning service.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.analyses,
			m.quotaRejections,
			m.baseScore,
			m.adjustedScore,
			m.adjustment,
			m.upstreamLatency,
			m.tokens,
		)
	}
	return m
}

// Outcome counts one finished analysis; outcome is "ok" or an error code.
func (m *Metrics) Outcome(outcome string) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(outcome).Inc()
}

func (m *Metrics) QuotaRejected(operation string) {
	if m == nil {
		return
	}
	m.quotaRejections.WithLabelValues(operation).Inc()
}

func (m *Metrics) BaseScore(score int) {
	if m == nil {
		return
	}
	m.baseScore.Observe(float64(score))
}

func (m *Metrics) Adjusted(adjustment, score int) {
	if m == nil {
		return
	}
	m.adjustment.Observe(float64(adjustment))
	m.adjustedScore.Observe(float64(score))
}

func (m *Metrics) Upstream(provider, outcome string, latency time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(provider, outcome).Observe(latency.Seconds())
	if tokens > 0 {
		m.tokens.Add(float64(tokens))
	}
}
