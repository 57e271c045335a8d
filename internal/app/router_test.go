package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/georgeglarson/venice-caching-tests/internal/adapter/httpserver"
	"github.com/georgeglarson/venice-caching-tests/internal/config"
	"github.com/georgeglarson/venice-caching-tests/internal/domain"
)

type stubScheduler struct{ triggered int }

func (s *stubScheduler) Status() domain.SchedulerStatus   { return domain.SchedulerStatus{Enabled: true} }
func (s *stubScheduler) Failures() []domain.FailureRecord { return nil }
func (s *stubScheduler) TriggerRun()                      { s.triggered++ }

func testRouter() (http.Handler, *stubScheduler) {
	stub := &stubScheduler{}
	cfg := config.Config{CORSAllowOrigins: "*", RateLimitPerMin: 30}
	srv := &httpserver.Server{Cfg: cfg, Sched: stub}
	return BuildRouter(cfg, srv), stub
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, ParseOrigins(" https://a.test, https://b.test "))
	assert.Equal(t, []string{"*"}, ParseOrigins(" , "))
}

func TestRouterRoutes(t *testing.T) {
	router, stub := testRouter()

	for _, path := range []string{"/healthz", "/metrics", "/v1/scheduler/status", "/v1/scheduler/failures"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/scheduler/run", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, stub.triggered)
}

func TestRouterSecurityHeaders(t *testing.T) {
	router, _ := testRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRouterUnknownRoute(t *testing.T) {
	router, _ := testRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
