package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hellowork-crawler/internal/metrics"
)

func TestHealthz(t *testing.T) {
	t.Parallel()

	s := New(Config{}, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("Content-Type"))
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	t.Parallel()

	s := New(Config{}, map[string]Check{
		"queue": func(context.Context) error { return nil },
		"store": func(context.Context) error { return errors.New("connection refused") },
	}, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","failed":{"store":"connection refused"}}`, rec.Body.String())
}

func TestReadyzWithoutChecks(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	New(Config{}, nil, nil).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	metrics.Init()
	metrics.ObserveEnqueueFailure()

	rec := httptest.NewRecorder()
	New(Config{}, nil, zap.NewNop()).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "enqueue_failures_total")
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(Config{ShutdownTimeout: time.Second}, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		r, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp = r
		return true
	}, 2*time.Second, 10*time.Millisecond)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Contains(t, string(body), "ok")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
