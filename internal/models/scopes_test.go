package models

import (
	"testing"
)

func TestIsValidScope(t *testing.T) {
	tests := []struct {
		name     string
		scope    string
		expected bool
	}{
		{name: "valid verification.read", scope: ScopeVerificationRead, expected: true},
		{name: "valid verification.write", scope: ScopeVerificationWrite, expected: true},
		{name: "valid face.read", scope: ScopeFaceRead, expected: true},
		{name: "valid face.write", scope: ScopeFaceWrite, expected: true},
		{name: "valid face.admin", scope: ScopeFaceAdmin, expected: true},
		{name: "valid operations.read", scope: ScopeOperationsRead, expected: true},
		{name: "valid wildcard", scope: ScopeAll, expected: true},
		{name: "invalid scope", scope: "invalid.scope", expected: false},
		{name: "invalid format", scope: "read", expected: false},
		{name: "empty scope", scope: "", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidScope(tt.scope)
			if result != tt.expected {
				t.Errorf("IsValidScope(%q) = %v, want %v", tt.scope, result, tt.expected)
			}
		})
	}
}

func TestIsAdminOnlyScope(t *testing.T) {
	tests := []struct {
		name     string
		scope    string
		expected bool
	}{
		{name: "face.admin is admin only", scope: ScopeFaceAdmin, expected: true},
		{name: "operations.read is admin only", scope: ScopeOperationsRead, expected: true},
		{name: "wildcard is admin only", scope: ScopeAll, expected: true},
		{name: "face.write is not admin only", scope: ScopeFaceWrite, expected: false},
		{name: "verification.read is not admin only", scope: ScopeVerificationRead, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAdminOnlyScope(tt.scope); got != tt.expected {
				t.Errorf("IsAdminOnlyScope(%q) = %v, want %v", tt.scope, got, tt.expected)
			}
		})
	}
}

func TestHasScope(t *testing.T) {
	tests := []struct {
		name     string
		scopes   []string
		required string
		expected bool
	}{
		{name: "exact match", scopes: []string{ScopeFaceRead}, required: ScopeFaceRead, expected: true},
		{name: "wildcard grants everything", scopes: []string{ScopeAll}, required: ScopeFaceAdmin, expected: true},
		{name: "missing scope", scopes: []string{ScopeFaceRead}, required: ScopeFaceWrite, expected: false},
		{name: "no scopes", scopes: nil, required: ScopeFaceRead, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasScope(tt.scopes, tt.required); got != tt.expected {
				t.Errorf("HasScope(%v, %q) = %v, want %v", tt.scopes, tt.required, got, tt.expected)
			}
		})
	}
}

func TestKnownScopes(t *testing.T) {
	got := KnownScopes([]string{"bogus", ScopeFaceRead, "", ScopeAll})
	want := []string{ScopeFaceRead, ScopeAll}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("KnownScopes() = %v, want %v", got, want)
	}

	if got := KnownScopes(nil); len(got) != 0 {
		t.Errorf("KnownScopes(nil) = %v, want empty", got)
	}
}
