package models

// Scopes a calling service may hold
const (
	ScopeVerificationRead  = "verification.read"
	ScopeVerificationWrite = "verification.write"

	ScopeFaceRead  = "face.read"
	ScopeFaceWrite = "face.write"

	// Admin-only
	ScopeFaceAdmin      = "face.admin"
	ScopeOperationsRead = "operations.read"

	// ScopeAll grants every scope; it is itself admin-only
	ScopeAll = "*"
)

type scopeInfo struct {
	adminOnly bool
}

var scopeTable = map[string]scopeInfo{
	ScopeVerificationRead:  {},
	ScopeVerificationWrite: {},
	ScopeFaceRead:          {},
	ScopeFaceWrite:         {},
	ScopeFaceAdmin:         {adminOnly: true},
	ScopeOperationsRead:    {adminOnly: true},
	ScopeAll:               {adminOnly: true},
}

// IsValidScope reports whether scope is known
func IsValidScope(scope string) bool {
	_, ok := scopeTable[scope]
	return ok
}

// IsAdminOnlyScope reports whether scope is honoured only for the admin role
func IsAdminOnlyScope(scope string) bool {
	return scopeTable[scope].adminOnly
}

// KnownScopes returns scopes with unknown entries removed, preserving order
func KnownScopes(scopes []string) []string {
	out := scopes[:0:0]
	for _, s := range scopes {
		if IsValidScope(s) {
			out = append(out, s)
		}
	}
	return out
}

// HasScope reports whether scopes grants required, either directly or via the wildcard
func HasScope(scopes []string, required string) bool {
	for _, scope := range scopes {
		if scope == ScopeAll || scope == required {
			return true
		}
	}
	return false
}
