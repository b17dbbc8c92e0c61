// File: internal/server/server_test.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/miraiminds/rouh/internal/config"
)

// stubRunner answers RunTask with a canned result or error and records the
// message it was called with.
type stubRunner struct {
	result   string
	err      error
	messages []string
}

func (s *stubRunner) RunTask(_ context.Context, message string) (string, error) {
	s.messages = append(s.messages, message)
	if s.err != nil {
		return "", s.err
	}
	return s.result, nil
}

func newTestServer(t *testing.T, runner TaskRunner) *Server {
	t.Helper()
	cfg := config.ServerConfig{
		ListenAddr:     "127.0.0.1:0",
		RequestTimeout: 5 * time.Second,
	}
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return New(cfg, runner, hub, zap.NewNop())
}

func TestHubRunStopsOnCancel(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub goroutine did not stop after context cancellation")
	}
}

func TestStartTask(t *testing.T) {
	t.Run("successful task returns the result", func(t *testing.T) {
		runner := &stubRunner{result: "The weather is sunny."}
		srv := newTestServer(t, runner)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/start_task", strings.NewReader(`{"message":"check the weather"}`))
		srv.Routes().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp startTaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "The weather is sunny.", resp.Result)
		assert.Equal(t, []string{"check the weather"}, runner.messages)
	})

	t.Run("runner failure maps to 500", func(t *testing.T) {
		runner := &stubRunner{err: errors.New("model unreachable")}
		srv := newTestServer(t, runner)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/start_task", strings.NewReader(`{"message":"hi"}`))
		srv.Routes().ServeHTTP(rec, req)

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var resp startTaskResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Error, "model unreachable")
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		runner := &stubRunner{}
		srv := newTestServer(t, runner)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/start_task", strings.NewReader("{not json"))
		srv.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, runner.messages, "the runner must not be invoked")
	})

	t.Run("empty message is rejected", func(t *testing.T) {
		runner := &stubRunner{}
		srv := newTestServer(t, runner)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/start_task", strings.NewReader(`{"message":""}`))
		srv.Routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, runner.messages)
	})
}

func TestStatus(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, &stubRunner{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/start_task", nil)
	srv.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}
