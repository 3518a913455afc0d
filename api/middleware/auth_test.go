package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborline/harborline-backend/pkg/auth"
	"github.com/harborline/harborline-backend/pkg/config"
	"github.com/harborline/harborline-backend/pkg/logger"
)

func authTestConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "harborline-test",
		ExpirationMinutes: 15,
	}
}

func authProbe(t *testing.T, cfg config.JWTConfig) (http.Handler, *struct{ user, tenant, role string }) {
	t.Helper()

	captured := &struct{ user, tenant, role string }{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	handler := Auth(cfg, logg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.user = UserIDFromContext(r.Context())
		captured.tenant = TenantIDFromContext(r.Context())
		captured.role = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return handler, captured
}

func TestAuth_bindsClaimsToContext(t *testing.T) {
	cfg := authTestConfig()
	userID, tenantID := uuid.New(), uuid.New()
	token, err := auth.MintAccessToken(cfg, time.Now().UTC(), userID, tenantID, "owner")
	require.NoError(t, err)

	handler, captured := authProbe(t, cfg)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, userID.String(), captured.user)
	assert.Equal(t, tenantID.String(), captured.tenant)
	assert.Equal(t, "owner", captured.role)
}

func TestAuth_rejectsMissingToken(t *testing.T) {
	handler, captured := authProbe(t, authTestConfig())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, captured.user)
}

func TestAuth_rejectsTamperedToken(t *testing.T) {
	cfg := authTestConfig()
	token, err := auth.MintAccessToken(cfg, time.Now().UTC(), uuid.New(), uuid.New(), "owner")
	require.NoError(t, err)

	other := cfg
	other.Secret = "different-secret"
	handler, _ := authProbe(t, other)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, bearerToken(req))

	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	assert.Equal(t, "abc.def.ghi", bearerToken(req))
}
