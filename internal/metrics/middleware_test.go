package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsSessionRoutes(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Put("/v1/crawls/{kind}/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/crawls/{kind}/{name}/run", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "200"))
	conflictBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "409"))
	seriesBefore := testutil.CollectAndCount(httpRequestDurationSeconds)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/v1/crawls/web/docs", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, "/v1/crawls/file/logs", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/crawls/web/docs/run", nil))

	require.InDelta(t, okBefore+2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPut, "200")), 0)
	require.InDelta(t, conflictBefore+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "409")), 0)
	// Durations are labeled by route pattern, so both PUTs share one series.
	require.Equal(t, seriesBefore+2, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestMiddlewareWithoutRouteContext(t *testing.T) {
	Init()
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/anything", nil))

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodDelete, "418")), 0)
}
