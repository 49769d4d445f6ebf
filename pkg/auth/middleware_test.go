package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func serve(t *testing.T, m *Middleware, header string) (*httptest.ResponseRecorder, *Claims, bool) {
	t.Helper()
	var (
		called bool
		seen   *Claims
	)
	handler := m.RequireAdmin(func(w http.ResponseWriter, r *http.Request) {
		called = true
		seen, _ = GetClaims(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	handler(rec, requestWithAuth(header))
	return rec, seen, called
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestMiddleware_RequireAdmin_Success(t *testing.T) {
	m := NewMiddleware(newService(t), zap.NewNop())
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), adminClaims("admin"))

	rec, claims, called := serve(t, m, "Bearer "+token)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, claims)
	assert.Equal(t, "ops@example.org", claims.Subject)
}

func TestMiddleware_RequireAdmin_Unauthorized(t *testing.T) {
	m := NewMiddleware(newService(t), zap.NewNop())

	rec, _, called := serve(t, m, "")

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec)["error"])
}

func TestMiddleware_RequireAdmin_Forbidden(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	m := NewMiddleware(newService(t), zap.New(core))
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), adminClaims("viewer"))

	rec, _, called := serve(t, m, "Bearer "+token)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "forbidden", body["error"])
	assert.Equal(t, "Admin role required", body["message"])

	denied := logs.FilterLoggerName("security_audit").FilterMessage("Admin access denied").All()
	require.Len(t, denied, 1)
	assert.Equal(t, "ops@example.org", denied[0].ContextMap()["subject"])
}

func TestMiddleware_RequireAdmin_VerificationDisabled(t *testing.T) {
	svc, err := NewAuthService(Config{EnableVerification: false}, zap.NewNop())
	require.NoError(t, err)
	m := NewMiddleware(svc, zap.NewNop())

	rec, claims, called := serve(t, m, "")

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, claims)
}

func TestClaims_HasRole(t *testing.T) {
	var nilClaims *Claims
	assert.False(t, nilClaims.HasRole("admin"))
	assert.True(t, (&Claims{Roles: []string{"admin"}}).HasRole("admin"))
	assert.Equal(t, "", GetSubject(requestWithAuth("").Context()))
}
