package daemon

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vollocare/autocoder/internal/config"
	"github.com/vollocare/autocoder/internal/rpc"
	generaterpc "github.com/vollocare/autocoder/internal/rpc/generate"
)

func testServer(metricsEnabled bool) *Server {
	cfg := &config.Config{Server: config.ServerConfig{Addr: ":0", MetricsEnabled: metricsEnabled, Transport: "ndjson"}}
	runner := generaterpc.FuncRunner(func(_ context.Context, req rpc.GenerateRequest) (<-chan rpc.GenerateEvent, error) {
		out := make(chan rpc.GenerateEvent, 1)
		out <- rpc.GenerateEvent{Type: "done", SessionID: req.SessionID, Done: true}
		close(out)
		return out, nil
	})
	return NewServerWithRunner(cfg, zap.NewNop(), runner, nil)
}

func TestHealthAndMetrics(t *testing.T) {
	h := testServer(true).Handler()

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{"spec":"x","output_dir":"o"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"type":"done"`)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "autocoder_transport_active_sessions")
}

func TestMetricsDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	testServer(false).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}
