package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/BradenHooton/facegate/internal/models"
)

// TokenManager validates the service tokens presented by calling systems
type TokenManager struct {
	secret   string
	issuer   string
	audience string
}

// NewTokenManager creates a new TokenManager. Empty issuer or audience are not checked.
func NewTokenManager(secret, issuer, audience string) *TokenManager {
	return &TokenManager{secret: secret, issuer: issuer, audience: audience}
}

// GenerateServiceToken issues a token for a calling service. Unknown scopes are rejected.
func (tm *TokenManager) GenerateServiceToken(service, role string, scopes []string, ttl time.Duration) (string, error) {
	for _, s := range scopes {
		if !models.IsValidScope(s) {
			return "", fmt.Errorf("%w: unknown scope %q", models.ErrBadRequest, s)
		}
	}

	now := time.Now()
	claims := &models.ServiceClaims{
		Service: service,
		Role:    role,
		Scopes:  scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   service,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if tm.issuer != "" {
		claims.Issuer = tm.issuer
	}
	if tm.audience != "" {
		claims.Audience = jwt.ClaimStrings{tm.audience}
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign service token: %w", err)
	}
	return tokenString, nil
}

// ValidateToken verifies a token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.ServiceClaims, error) {
	claims := &models.ServiceClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	if tm.audience != "" {
		opts = append(opts, jwt.WithAudience(tm.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(tm.secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, models.ErrUnauthorized
	}

	if claims.Service == "" {
		return nil, fmt.Errorf("invalid token: missing service")
	}

	// Unknown scopes grant nothing
	claims.Scopes = models.KnownScopes(claims.Scopes)

	return claims, nil
}
