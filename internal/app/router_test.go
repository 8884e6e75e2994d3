package app

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/restaurant-ops/restops/internal/closure"
	closurehttp "github.com/restaurant-ops/restops/internal/closure/http"
	"github.com/restaurant-ops/restops/internal/closure/memstore"
	"github.com/restaurant-ops/restops/internal/observability"
	"github.com/restaurant-ops/restops/internal/platform/httpx"
)

func testRouter(t *testing.T, ready func(*http.Request) error) (http.Handler, *observability.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	store := memstore.New(time.UTC)
	cache := memstore.NewCache()
	handler := closurehttp.NewHandler(closurehttp.Config{
		Checker:     closure.NewChecker(closure.CheckerConfig{Store: store, Cache: cache, Logger: logger, Location: time.UTC}),
		Coordinator: closure.NewCoordinator(closure.CoordinatorConfig{Store: store, Status: store, Cache: cache, Logger: logger, Location: time.UTC}),
		Status:      store,
		Operations:  store,
		Location:    time.UTC,
		Logger:      logger,
	})
	metrics := observability.NewMetrics()
	cfg := &Config{AppEnv: "production", AppRateLimit: 0}
	return NewRouter(RouterParams{
		Logger:         logger,
		Config:         cfg,
		ClosureHandler: handler,
		Metrics:        metrics,
		Ready:          ready,
	}), metrics
}

func TestRouterHealthAndReadiness(t *testing.T) {
	router, _ := testRouter(t, func(*http.Request) error {
		return fmt.Errorf("%w: postgres down", httpx.ErrUnavailable)
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://restops.local/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://restops.local/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Equal(t, "30", rr.Header().Get("Retry-After"))
}

func TestRouterMountsClosureRoutesAndMetrics(t *testing.T) {
	router, _ := testRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "https://restops.local/closure/queue", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"en_cours":false`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://restops.local/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.True(t, strings.Contains(rr.Body.String(), `restops_http_requests_total{code="200",route="/closure/queue"} 1`), rr.Body.String())
}

func TestClientKeyUsesClientHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Client-ID", "tab-1")
	key, err := clientKey(req)
	require.NoError(t, err)
	require.Equal(t, "tab-1", key)
}
