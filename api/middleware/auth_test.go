package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgAuth "github.com/angelmondragon/backoffice-payments/pkg/auth"
	"github.com/angelmondragon/backoffice-payments/pkg/config"
	"github.com/angelmondragon/backoffice-payments/pkg/db/models"
	pkgerrors "github.com/angelmondragon/backoffice-payments/pkg/errors"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "secret", Issuer: "backoffice", ExpirationMinutes: 5}
}

func TestOperatorAuthAcceptsOperatorToken(t *testing.T) {
	cfg := testJWTConfig()
	operatorID := uuid.New()
	token, err := pkgAuth.MintOperatorToken(cfg, time.Now(), pkgAuth.OperatorTokenPayload{OperatorID: operatorID})
	require.NoError(t, err)

	var seen string
	handler := OperatorAuth(cfg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = OperatorIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ops/settlements/x/integrity", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, operatorID.String(), seen)
}

func TestOperatorAuthRejects(t *testing.T) {
	cfg := testJWTConfig()
	claims := pkgAuth.OperatorClaims{
		OperatorID: uuid.New(),
		Role:       "viewer",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	wrongRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	require.NoError(t, err)

	cases := map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"garbage":    "Bearer not-a-jwt",
		"wrong role": "Bearer " + wrongRole,
	}
	for name, header := range cases {
		called := false
		handler := OperatorAuth(cfg, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ops/billing/run", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, name)
		assert.False(t, called, name)
	}
}

type fakeAuthenticator struct {
	device *models.Device
}

func (f fakeAuthenticator) Authenticate(_ context.Context, token string) (*models.Device, error) {
	if f.device == nil || token != "dev_ok" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid device token")
	}
	return f.device, nil
}

func TestDeviceAuth(t *testing.T) {
	device := &models.Device{ID: uuid.New(), TenantID: uuid.New()}
	var seen *models.Device
	handler := DeviceAuth(fakeAuthenticator{device: device}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = DeviceFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/claim", nil)
	req.Header.Set("Authorization", "Bearer dev_ok")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, seen)
	assert.Equal(t, device.ID, seen.ID)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/devices/claim", nil)
	req.Header.Set("Authorization", "Bearer dev_bad")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

type fakeLimiter struct {
	counts map[string]int64
	scopes []string
}

func (f *fakeLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if f.counts == nil {
		f.counts = map[string]int64{}
	}
	f.counts[scope]++
	f.scopes = append(f.scopes, scope)
	return f.counts[scope] <= limit, f.counts[scope], nil
}

func TestRateLimitPerDevice(t *testing.T) {
	limiter := &fakeLimiter{}
	policy := RateLimitPolicy{Name: "devices", Limit: 2, Window: time.Minute}
	handler := RateLimit(policy, limiter, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	device := &models.Device{ID: uuid.New()}

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/claim", nil)
		req = req.WithContext(WithDevice(req.Context(), device))
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, "devices:"+device.ID.String(), limiter.scopes[0])

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/claim", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "devices:ip:203.0.113.9", limiter.scopes[len(limiter.scopes)-1])
}

func TestRateLimitDisabledPolicyPassesThrough(t *testing.T) {
	limiter := &fakeLimiter{}
	handler := RateLimit(RateLimitPolicy{Name: "off"}, limiter, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, limiter.scopes)
}

func TestRecovererWritesInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestRequestIDPropagatesHeader(t *testing.T) {
	handler := RequestID(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, "req-123", resp.Header().Get(requestIDHeader))

	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(resp.Header().Get(requestIDHeader))
	assert.NoError(t, err)
}
