package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/BradenHooton/facegate/internal/models"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// ServiceContextKey is the key for storing service claims in context
	ServiceContextKey contextKey = "service"
)

// ServiceAuth validates bearer service tokens and injects the claims into context
func ServiceAuth(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(parts[1])
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ServiceContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers that do not hold the admin role
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetServiceFromContext(r)
		if claims == nil {
			pkghttp.WriteUnauthorized(w, "unauthorized")
			return
		}
		if !claims.IsAdmin() {
			pkghttp.WriteForbidden(w, "forbidden: insufficient permissions")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetServiceFromContext extracts service claims from request context
func GetServiceFromContext(r *http.Request) *models.ServiceClaims {
	claims, ok := r.Context().Value(ServiceContextKey).(*models.ServiceClaims)
	if !ok {
		return nil
	}
	return claims
}

// WithServiceClaims returns ctx carrying claims
func WithServiceClaims(ctx context.Context, claims *models.ServiceClaims) context.Context {
	return context.WithValue(ctx, ServiceContextKey, claims)
}
