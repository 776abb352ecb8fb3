package auth

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BradenHooton/facegate/internal/models"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

var scopeDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "facegate_auth_scope_denied_total",
	Help: "Requests rejected because the calling service lacked a required scope.",
}, []string{"required"})

// RequireScope enforces that the calling service holds requiredScope.
// Admin-only scopes are honoured only for callers with the admin role.
func RequireScope(requiredScope string) func(next http.Handler) http.Handler {
	return RequireAnyScope(requiredScope)
}

// RequireAnyScope allows access if the caller holds any of requiredScopes
func RequireAnyScope(requiredScopes ...string) func(next http.Handler) http.Handler {
	label := strings.Join(requiredScopes, "|")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetServiceFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}

			if grants(claims, requiredScopes) {
				next.ServeHTTP(w, r)
				return
			}

			scopeDenials.WithLabelValues(label).Inc()
			pkghttp.WriteForbidden(w, "insufficient scope")
		})
	}
}

func grants(claims *models.ServiceClaims, required []string) bool {
	admin := claims.IsAdmin()
	for _, scope := range required {
		if models.IsAdminOnlyScope(scope) && !admin {
			continue
		}
		if models.HasScope(claims.Scopes, scope) {
			return true
		}
	}
	return false
}
