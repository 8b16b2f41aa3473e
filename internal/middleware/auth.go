// Package middleware provides the HTTP middleware for medplain.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/medplain/medplain/internal/httputil"
	"github.com/medplain/medplain/internal/services/auth"
	"github.com/medplain/medplain/pkg/logger"
)

// AuthMiddleware validates bearer access tokens and places the caller's
// identity into the request context.
type AuthMiddleware struct {
	tokens       *auth.TokenManager
	log          *logger.Logger
	skipPaths    map[string]bool
	skipPrefixes []string
}

// NewAuthMiddleware creates the authentication middleware. Requests to
// skipPaths pass through unauthenticated; entries ending in "/" are treated
// as path prefixes.
func NewAuthMiddleware(tokens *auth.TokenManager, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool, len(skipPaths))
	var prefixes []string
	for _, p := range skipPaths {
		if strings.HasSuffix(p, "/") {
			prefixes = append(prefixes, p)
			continue
		}
		skip[p] = true
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{tokens: tokens, log: log, skipPaths: skip, skipPrefixes: prefixes}
}

func (m *AuthMiddleware) skip(path string) bool {
	if m.skipPaths[path] {
		return true
	}
	for _, prefix := range m.skipPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.Unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.Unauthorized(w, "invalid authorization header format")
			return
		}

		claims, err := m.tokens.VerifyAccessToken(parts[1])
		if err != nil {
			m.log.WithContext(r.Context()).WithError(err).Warn("token validation failed")
			httputil.Unauthorized(w, "invalid token")
			return
		}

		ctx := logger.WithUser(r.Context(), claims.UserID, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID extracts the authenticated user ID from the context.
func GetUserID(ctx context.Context) string {
	return logger.GetUserID(ctx)
}

// GetUserRole extracts the authenticated user role from the context.
func GetUserRole(ctx context.Context) string {
	return logger.GetRole(ctx)
}

// RequireUserID rejects requests that reached a protected handler without
// an authenticated identity.
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			httputil.Unauthorized(w, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
