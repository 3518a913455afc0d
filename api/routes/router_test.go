package routes

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harborline/harborline-backend/pkg/config"
	"github.com/harborline/harborline-backend/pkg/logger"
)

func testRouter() http.Handler {
	cfg := &config.Config{}
	cfg.App.Env = "dev"
	cfg.JWT = config.JWTConfig{Secret: "test-secret", Issuer: "harborline-test", ExpirationMinutes: 15}
	return NewRouter(RouterParams{
		Config: cfg,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
}

func TestRouter_healthLive(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev", rec.Header().Get("X-Harborline-Env"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRouter_healthReadyFailsWithoutDependencies(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRouter_apiRoutesRequireAuth(t *testing.T) {
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/orders"},
		{http.MethodGet, "/api/v1/orders"},
		{http.MethodGet, "/api/v1/subscriptions"},
		{http.MethodGet, "/api/v1/audit-events"},
	}
	router := testRouter()
	for _, tc := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}

func TestRouter_metricsExposed(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
