package auth

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vidflow/internal/logger"
	"vidflow/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  "6c1d2f0e-1b7a-4c55-9d0a-3e2b9f8a7c10",
		"role": "authenticated",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
}

func TestHMACVerifierRoles(t *testing.T) {
	v := NewHMACVerifier(testSecret)

	id, err := v.Verify(context.Background(), signToken(t, testSecret, baseClaims()))
	require.NoError(t, err)
	assert.Equal(t, "6c1d2f0e-1b7a-4c55-9d0a-3e2b9f8a7c10", id.UserID)
	assert.Equal(t, models.RoleCustomer, id.Role)

	claims := baseClaims()
	claims["app_metadata"] = map[string]any{"role": "admin"}
	id, err = v.Verify(context.Background(), signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, id.Role)

	claims = baseClaims()
	claims["role"] = "staff"
	id, err = v.Verify(context.Background(), signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, models.RoleStaff, id.Role)
}

func TestHMACVerifierRejects(t *testing.T) {
	v := NewHMACVerifier(testSecret)

	_, err := v.Verify(context.Background(), signToken(t, "another-secret", baseClaims()))
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := baseClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = v.Verify(context.Background(), signToken(t, testSecret, expired))
	assert.ErrorIs(t, err, ErrInvalidToken)

	noExp := baseClaims()
	delete(noExp, "exp")
	_, err = v.Verify(context.Background(), signToken(t, testSecret, noExp))
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSub := baseClaims()
	delete(noSub, "sub")
	_, err = v.Verify(context.Background(), signToken(t, testSecret, noSub))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ExtractTokenFromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Basic abc")
	_, err = ExtractTokenFromRequest(r)
	assert.Error(t, err)

	r.Header.Set("Authorization", "bearer abc.def.ghi")
	token, err := ExtractTokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "abc.def.ghi", token)
}

func protected(verifier Verifier, roles ...models.Role) http.Handler {
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-User", UserID(r.Context()))
		w.Header().Set("X-Role", string(Role(r.Context())))
		w.WriteHeader(http.StatusNoContent)
	})
	var h http.Handler = final
	if len(roles) > 0 {
		h = RequireRole(roles...)(h)
	}
	return Middleware(verifier, logger.NewWriterLogger(&bytes.Buffer{}))(h)
}

func TestMiddleware(t *testing.T) {
	v := NewHMACVerifier(testSecret)
	h := protected(v)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong", baseClaims()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/orders/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, baseClaims()))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "6c1d2f0e-1b7a-4c55-9d0a-3e2b9f8a7c10", rec.Header().Get("X-User"))
	assert.Equal(t, "customer", rec.Header().Get("X-Role"))
}

func TestRequireRole(t *testing.T) {
	v := NewHMACVerifier(testSecret)
	h := protected(v, models.RoleStaff, models.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/pipeline", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, baseClaims()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	claims := baseClaims()
	claims["app_metadata"] = map[string]any{"role": "staff"}
	req = httptest.NewRequest(http.MethodGet, "/api/admin/pipeline", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserID(ctx))
	assert.Equal(t, models.RoleCustomer, Role(ctx))
	assert.False(t, IsStaff(ctx))

	ctx = WithIdentity(ctx, Identity{UserID: "u1", Role: models.RoleAdmin})
	assert.Equal(t, "u1", UserID(ctx))
	assert.True(t, IsStaff(ctx))
}
