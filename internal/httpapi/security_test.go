package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mercado/backend/internal/domain"
	"mercado/backend/internal/store"
)

func TestSecurityHeaders(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.NotEmpty(t, rec.Header().Get("Cross-Origin-Opener-Policy"))
}

func TestLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t)

	for i := 0; i < 5; i++ {
		rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"username": "admin",
			"password": "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "admin123",
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["kind"])
}

func TestRequestBodyTooLarge(t *testing.T) {
	handler := newTestAPI(t)
	token := loginAs(t, handler, "admin", "admin123")

	payload := fmt.Sprintf(`{"name":"Inventário","notes":"%s"}`, strings.Repeat("x", maxJSONBody+10))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/sessions", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exceeds")
}

func TestExpiredTokenIsRejected(t *testing.T) {
	manager := NewAuthManager(testSecret, time.Hour, legacyAdminStore(), nil)
	token, err := manager.sign(domain.Actor{ID: "usr-admin", Username: "admin", Role: domain.RoleAdmin}, time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = manager.ParseToken(token)
	assert.ErrorIs(t, err, store.ErrUnauthenticated)
}

func TestParsePositiveInt(t *testing.T) {
	assert.Equal(t, 30, parsePositiveInt("", 30))
	assert.Equal(t, 30, parsePositiveInt("abc", 30))
	assert.Equal(t, 30, parsePositiveInt("0", 30))
	assert.Equal(t, 30, parsePositiveInt("-3", 30))
	assert.Equal(t, 7, parsePositiveInt(" 7 ", 30))
}

func TestParseDateParam(t *testing.T) {
	got, err := parseDateParam("from", "", false)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseDateParam("from", "2024-06-10", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseDateParam("to", "2024-06-10", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 23, 59, 59, 999999999, time.UTC), *got)

	got, err = parseDateParam("to", "2024-06-10T15:04:05-03:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 10, 18, 4, 5, 0, time.UTC), *got)

	_, err = parseDateParam("from", "10/06/2024", false)
	assert.ErrorIs(t, err, store.ErrValidation)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrUnauthenticated, http.StatusUnauthorized},
		{store.ErrForbidden, http.StatusForbidden},
		{store.Invalid("quantity", "must be positive"), http.StatusBadRequest},
		{store.NotFound("product", "prd-x"), http.StatusNotFound},
		{&store.InsufficientStockError{ProductID: "prd-x"}, http.StatusConflict},
		{store.ErrSessionAlreadyOpen, http.StatusConflict},
		{store.ErrNoOpenSession, http.StatusConflict},
		{store.ErrSessionClosed, http.StatusConflict},
		{&store.DiscrepancyError{}, http.StatusUnprocessableEntity},
		{store.Unavailable(fmt.Errorf("serialization failure")), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

func TestUnavailableSetsRetryAfter(t *testing.T) {
	api := New(nil, nil, "*", nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sales", nil)
	rec := httptest.NewRecorder()

	api.writeError(rec, req, store.Unavailable(fmt.Errorf("deadlock detected")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "deadlock")
}
