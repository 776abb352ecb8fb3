package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     interface{}
		wantErr string
	}{
		{
			name: "valid decision",
			req:  &DecisionRequest{UserID: "user-42", BusinessType: "payment"},
		},
		{
			name:    "missing fields are named by json tag",
			req:     &DecisionRequest{},
			wantErr: "user_id: this field is required; business_type: this field is required",
		},
		{
			name:    "business type must be a slug",
			req:     &DecisionRequest{UserID: "u1", BusinessType: "Pay Ment"},
			wantErr: "business_type: must be a lowercase identifier",
		},
		{
			name:    "user id rejects path separators",
			req:     &DecisionRequest{UserID: "../etc", BusinessType: "login"},
			wantErr: "user_id: must be an identifier",
		},
		{
			name:    "image needs one source",
			req:     &QualityRequest{},
			wantErr: "image_base64: is required when image_url is not set",
		},
		{
			name: "image url accepted",
			req:  &QualityRequest{ImagePayload{ImageURL: "https://cdn.example.com/a.jpg"}},
		},
		{
			name:    "collection method enum",
			req:     &CollectFaceRequest{ImagePayload: ImagePayload{ImageBase64: "aGVsbG8="}, Method: "scan"},
			wantErr: "method: must be one of: manual auto import",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidPathUserID(t *testing.T) {
	assert.True(t, validPathUserID("user-1"))
	assert.True(t, validPathUserID("svc:alice@example.com"))
	assert.False(t, validPathUserID(""))
	assert.False(t, validPathUserID("a/b"))
	assert.False(t, validPathUserID("-leading"))
}
