package generate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vollocare/autocoder/internal/rpc"
)

func echoRunner() Runner {
	return FuncRunner(func(_ context.Context, req rpc.GenerateRequest) (<-chan rpc.GenerateEvent, error) {
		out := make(chan rpc.GenerateEvent, 2)
		out <- rpc.GenerateEvent{Type: "iteration", SessionID: req.SessionID, Iteration: 1, Message: req.OutputDir}
		out <- rpc.GenerateEvent{Type: "done", SessionID: req.SessionID, Done: true, Success: true}
		close(out)
		return out, nil
	})
}

func TestHandlerStreamsEvents(t *testing.T) {
	handler := NewHandler(echoRunner(), nil)
	body := bytes.NewBufferString(`{"session_id":"test","spec":"# spec","output_dir":"out"}`)
	req := httptest.NewRequest(http.MethodPost, "/generate", body)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	resp := rr.Result()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var events []rpc.GenerateEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev rpc.GenerateEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	require.Equal(t, "test", events[0].SessionID)
	require.Equal(t, "out", events[0].Message)
	require.True(t, events[1].Done)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	handler := NewHandler(echoRunner(), nil)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/generate", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString("{")))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	failing := NewHandler(&EngineRunner{}, nil)
	rr = httptest.NewRecorder()
	failing.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/generate", bytes.NewBufferString(`{"spec":"x","output_dir":"o"}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
