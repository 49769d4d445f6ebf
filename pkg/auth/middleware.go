package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/healthsync/connector-engine/pkg/audit"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		auditor:     audit.NewSecurityAuditor(logger),
		logger:      logger,
	}
}

// RequireAdmin validates the bearer token and requires the admin role.
// Claims and token are placed in the context for downstream handlers.
// When verification is disabled every request passes through untouched.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.authService.Enabled() {
			next(w, r)
			return
		}

		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			m.auditor.LogAccessDenied("", r.RemoteAddr, audit.AccessDetails{
				Method: r.Method,
				Path:   r.URL.Path,
				Reason: err.Error(),
			}, audit.SeverityWarning)
			m.unauthorized(w, "Authentication required")
			return
		}

		if err := m.authService.RequireAdmin(claims); err != nil {
			m.auditor.LogAccessDenied(claims.Subject, r.RemoteAddr, audit.AccessDetails{
				Method: r.Method,
				Path:   r.URL.Path,
				Reason: err.Error(),
			}, audit.SeverityInfo)
			m.forbidden(w, "Admin role required")
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		ctx = context.WithValue(ctx, TokenKey, token)
		next(w, r.WithContext(ctx))
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, "unauthorized", message)
}

// forbidden returns a 403 response with JSON error body.
func (m *Middleware) forbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, "forbidden", message)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
