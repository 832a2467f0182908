package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, target string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec.Code
}

func TestMiddlewareLabelsChiRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/jobs/{number}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	ready := httpRequestsTotal.WithLabelValues(http.MethodGet, "/readyz", "503")
	jobs := httpRequestsTotal.WithLabelValues(http.MethodGet, "/jobs/{number}", "200")
	beforeReady, beforeJobs := testutil.ToFloat64(ready), testutil.ToFloat64(jobs)

	assert.Equal(t, http.StatusServiceUnavailable, serve(t, r, http.MethodGet, "/readyz?verbose=1"))
	assert.Equal(t, http.StatusOK, serve(t, r, http.MethodGet, "/jobs/13010-00000001"))
	assert.Equal(t, http.StatusOK, serve(t, r, http.MethodGet, "/jobs/13010-00000002"))

	assert.InDelta(t, beforeReady+1, testutil.ToFloat64(ready), 0)
	assert.InDelta(t, beforeJobs+2, testutil.ToFloat64(jobs), 0, "path parameters collapse into one series")
	assert.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareWithoutRouteContext(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	teapot := httpRequestsTotal.WithLabelValues(http.MethodPost, UnknownRoute, "418")
	before := testutil.ToFloat64(teapot)

	require.Equal(t, http.StatusTeapot, serve(t, h, http.MethodPost, "/anything"))
	assert.InDelta(t, before+1, testutil.ToFloat64(teapot), 0)
}

func TestMiddlewareDefaultsStatusToOK(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(http.ResponseWriter, *http.Request) {})

	ok := httpRequestsTotal.WithLabelValues(http.MethodGet, "/healthz", "200")
	before := testutil.ToFloat64(ok)

	serve(t, r, http.MethodGet, "/healthz")
	assert.InDelta(t, before+1, testutil.ToFloat64(ok), 0)
}
