package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Outcome("ok")
	m.Outcome("ok")
	m.Outcome("rate_limited")
	m.QuotaRejected("job_analysis")
	m.BaseScore(84)
	m.Adjusted(4, 88)
	m.Upstream("gemini", "ok", 1500*time.Millisecond, 300)
	m.Upstream("gemini", "upstream_error", time.Second, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.analyses.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaRejections.WithLabelValues("job_analysis")))
	assert.Equal(t, 300.0, testutil.ToFloat64(m.tokens))

	count, err := testutil.GatherAndCount(reg, "jobmatch_upstream_request_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.Outcome("ok")
		m.QuotaRejected("job_analysis")
		m.BaseScore(1)
		m.Adjusted(1, 2)
		m.Upstream("gemini", "ok", time.Second, 1)
	})
}
