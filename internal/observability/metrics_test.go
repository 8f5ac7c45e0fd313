package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecorders(t *testing.T) {
	m := NewMetrics()
	m.RecordSession("succeeded", 2, 3*time.Second)
	m.RecordIteration("failed")
	m.RecordIteration("passed")
	m.RecordModelCall("coder", "ok", time.Second)
	m.RecordModelCall("", "error", time.Second)
	m.RecordPromptTokens("coder", 120)
	m.RecordTestRun(false, time.Second)
	m.IncActiveSessions("connect")
	m.RecordTransportError("ndjson", "")

	require.Equal(t, 1.0, testutil.ToFloat64(m.Sessions.WithLabelValues("succeeded")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Iterations.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ModelCalls.WithLabelValues("unknown", "error")))
	require.Equal(t, 120.0, testutil.ToFloat64(m.PromptTokens.WithLabelValues("coder")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TestRuns.WithLabelValues("failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSession.WithLabelValues("connect")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TransportErrs.WithLabelValues("ndjson", "unknown")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordSession("aborted", 1, time.Second)
		m.RecordIteration("aborted")
		m.RecordModelCall("coder", "ok", time.Second)
		m.RecordPromptTokens("coder", 1)
		m.RecordTestRun(true, time.Second)
		m.IncActiveSessions("connect")
		m.DecActiveSessions("connect")
		m.RecordTransportError("connect", "x")
	})
}
