package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/zns-dispatch/internal/dispatch"
)

func TestMetrics_Observer(t *testing.T) {
	m := New()

	m.ObserveAttempt(dispatch.ClassTransientRateLimit, 20*time.Millisecond)
	m.ObserveAttempt(dispatch.ClassSuccess, 10*time.Millisecond)
	m.ObserveAttempt(dispatch.ClassSuccess, 15*time.Millisecond)
	m.ObserveResult(dispatch.SendResult{Status: dispatch.StatusSuccess})
	m.ObserveResult(dispatch.SendResult{Status: dispatch.StatusFailed, ErrorCode: "-108"})
	m.ObserveBatch(dispatch.BatchProgress{})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("transient_rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("failed", "-108")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultsTotal.WithLabelValues("success", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchesTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(m.AttemptDuration))
}

func TestMetrics_RunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	m.RunStarted()
	m.RunFinished("completed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("completed")))
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+id, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/runs/{id}", "404")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BatchesTotal.Inc()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "zns_dispatch_batches_total 1"))
}
