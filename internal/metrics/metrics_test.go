package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.SessionStarted()
	m.SessionStarted()
	m.SessionFinished("completed")

	require.InDelta(t, 1, testutil.ToFloat64(m.sessionsRunning), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.sessionsTotal.WithLabelValues("completed")), 0)

	m.ObserveSave(7, 2)
	m.ObserveProcessed(6)
	m.ObserveFault("normalize")
	m.ObserveRetention(0)
	m.ObserveRetention(3)
	m.ObserveFetch("ok", 2*time.Second)

	require.InDelta(t, 7, testutil.ToFloat64(m.reviewsSaved), 0)
	require.InDelta(t, 2, testutil.ToFloat64(m.reviewsDuplicate), 0)
	require.InDelta(t, 6, testutil.ToFloat64(m.reviewsProcessed), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.itemFaults.WithLabelValues("normalize")), 0)
	require.InDelta(t, 3, testutil.ToFloat64(m.retentionDeleted), 0)
	require.Equal(t, 1, testutil.CollectAndCount(m.fetchDuration))
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.SessionStarted()
		m.SessionFinished("failed")
		m.ObserveSave(1, 1)
		m.ObserveProcessed(1)
		m.ObserveFault("save")
		m.ObserveFetch("error", time.Second)
		m.ObserveRetention(1)
		m.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
	})
	require.NotNil(t, m.Handler())
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	m := New(nil)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/statistics/{session_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/api/statistics/1", "/api/statistics/2", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	require.InDelta(t, 2, float64(testutil.CollectAndCount(m.httpRequestDuration)), 0)
}

func TestHandlerServesRegistry(t *testing.T) {
	t.Parallel()

	m := New(prometheus.NewRegistry())
	m.ObserveSave(1, 0)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "reviewd_reviews_saved_total 1"))
}
