package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// ServiceClaims are the JWT claims presented by calling services
type ServiceClaims struct {
	Service string   `json:"svc"`
	Role    string   `json:"role,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller holds the admin role
func (c *ServiceClaims) IsAdmin() bool {
	return c.Role == "admin"
}
