package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/BradenHooton/facegate/internal/auth"
	pkghttp "github.com/BradenHooton/facegate/pkg/http"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultRateLimit returns the per-caller default (600 requests per minute)
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 600,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(limitExceeded),
	)
}

// RateLimitByService limits each calling service separately. It must run after auth.ServiceAuth;
// unauthenticated requests fall back to the client IP.
func RateLimitByService(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(serviceKey),
		httprate.WithLimitHandler(limitExceeded),
	)
}

func serviceKey(r *http.Request) (string, error) {
	if claims := auth.GetServiceFromContext(r); claims != nil {
		return "svc:" + claims.Service, nil
	}
	return httprate.KeyByRealIP(r)
}

func limitExceeded(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
}
