package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/restaurant-ops/restops/internal/closure"
	jobmetrics "github.com/restaurant-ops/restops/internal/jobs"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobAndClosureMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	require.NoError(t, jobs.Track("closure:check").End(nil))
	jobs.RecordClosure(closure.OutcomeSuccess, "", 0)

	body := scrape(t, metrics)
	require.Contains(t, body, `restops_jobs_total{job="closure:check",status="success"} 1`)
	require.Contains(t, body, `restops_closure_outcomes_total{kind="none",outcome="SUCCESS"} 1`)
	require.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/closure/status")
	req := httptest.NewRequest(http.MethodGet, "/closure/status", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.True(t, strings.Contains(body, `restops_http_requests_total{code="418",route="/closure/status"} 1`), body)
	require.Contains(t, body, `restops_http_request_duration_seconds_bucket{route="/closure/status"`)
	require.Contains(t, body, "restops_http_requests_in_flight 0")
}
