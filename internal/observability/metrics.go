package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for generation sessions and the daemon.
type Metrics struct {
	registry      *prometheus.Registry
	Sessions      *prometheus.CounterVec
	SessionLength *prometheus.HistogramVec
	Iterations    *prometheus.CounterVec
	ModelCalls    *prometheus.CounterVec
	ModelDuration *prometheus.HistogramVec
	PromptTokens  *prometheus.CounterVec
	TestRuns      *prometheus.CounterVec
	TestDuration  prometheus.Histogram
	ActiveSession *prometheus.GaugeVec
	TransportErrs *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with the autocoder collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	sessions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autocoder_sessions_total",
		Help: "Finished generation sessions by final state",
	}, []string{"result"})

	sessionLen := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autocoder_session_duration_seconds",
		Help:    "Generation session duration in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"result"})

	iterations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autocoder_iterations_total",
		Help: "Generation iterations by outcome",
	}, []string{"outcome"})

	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autocoder_model_calls_total",
		Help: "Model call attempts by model and outcome",
	}, []string{"model", "outcome"})

	callDur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "autocoder_model_call_duration_seconds",
		Help:    "Model call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"model"})

	tokens := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autocoder_prompt_tokens_total",
		Help: "Prompt tokens sent to the model",
	}, []string{"model"})

	testRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autocoder_test_runs_total",
		Help: "Test runs by result",
	}, []string{"result"})

	testDur := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "autocoder_test_run_duration_seconds",
		Help:    "Test run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "autocoder_transport_active_sessions",
		Help: "Active streaming sessions by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "autocoder_transport_errors_total",
		Help: "Transport-level errors (handler/streaming) by transport and reason",
	}, []string{"transport", "reason"})

	reg.MustRegister(sessions, sessionLen, iterations, calls, callDur, tokens, testRuns, testDur, active, trErrors)

	return &Metrics{
		registry:      reg,
		Sessions:      sessions,
		SessionLength: sessionLen,
		Iterations:    iterations,
		ModelCalls:    calls,
		ModelDuration: callDur,
		PromptTokens:  tokens,
		TestRuns:      testRuns,
		TestDuration:  testDur,
		ActiveSession: active,
		TransportErrs: trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordSession records a finished session.
func (m *Metrics) RecordSession(result string, _ int, duration time.Duration) {
	if m == nil {
		return
	}
	result = orUnknown(result)
	m.Sessions.WithLabelValues(result).Inc()
	m.SessionLength.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordIteration records one iteration outcome (passed, failed, aborted).
func (m *Metrics) RecordIteration(outcome string) {
	if m == nil {
		return
	}
	m.Iterations.WithLabelValues(orUnknown(outcome)).Inc()
}

// RecordModelCall records one model call attempt.
func (m *Metrics) RecordModelCall(model, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	model = orUnknown(model)
	m.ModelCalls.WithLabelValues(model, orUnknown(outcome)).Inc()
	m.ModelDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordPromptTokens adds the prompt token count of a model call.
func (m *Metrics) RecordPromptTokens(model string, tokens int) {
	if m == nil {
		return
	}
	m.PromptTokens.WithLabelValues(orUnknown(model)).Add(float64(tokens))
}

// RecordTestRun records a test invocation.
func (m *Metrics) RecordTestRun(passed bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	m.TestRuns.WithLabelValues(result).Inc()
	m.TestDuration.Observe(duration.Seconds())
}

// IncActiveSessions increments the active session gauge.
func (m *Metrics) IncActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Inc()
}

// DecActiveSessions decrements the active session gauge.
func (m *Metrics) DecActiveSessions(transport string) {
	if m == nil {
		return
	}
	m.ActiveSession.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	m.TransportErrs.WithLabelValues(orUnknown(transport), orUnknown(reason)).Inc()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
