package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	vt, err := ParseVerificationType("FORCED")
	require.NoError(t, err)
	assert.Equal(t, VerificationForced, vt)

	_, err = ParseVerificationType("forced")
	assert.Error(t, err)

	r, err := ParseVerificationResult("TIMEOUT")
	require.NoError(t, err)
	assert.Equal(t, VerificationTimeout, r)

	_, err = ParseRiskLevel("extreme")
	assert.Error(t, err)

	_, err = ParseProfileStatus("DELETED")
	assert.Error(t, err)
}

func TestVerificationType_IsMandatory(t *testing.T) {
	tests := []struct {
		vt      VerificationType
		want    bool
		wantErr bool
	}{
		{VerificationRequired, true, false},
		{VerificationForced, true, false},
		{VerificationOptional, false, false},
		{VerificationType("SOMETIMES"), false, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.vt), func(t *testing.T) {
			got, err := tt.vt.IsMandatory()
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestRiskLevel_Ordering(t *testing.T) {
	assert.Less(t, RiskLow.Rank(), RiskMedium.Rank())
	assert.Less(t, RiskMedium.Rank(), RiskHigh.Rank())
	assert.Equal(t, RiskHigh, MaxRisk(RiskMedium, RiskHigh))
	assert.Equal(t, RiskMedium, MaxRisk(RiskMedium, RiskLow))
}

func TestHistoryStats_FailureRate(t *testing.T) {
	var nilStats *HistoryStats
	assert.Equal(t, 0.0, nilStats.FailureRate())
	assert.Equal(t, 0.0, (&HistoryStats{}).FailureRate())
	assert.Equal(t, 0.25, (&HistoryStats{Count: 4, FailureCount: 1}).FailureRate())
}

func TestFaceProfile_Availability(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.True(t, (&FaceProfile{Status: ProfileStatusActive}).IsAvailableAt(now))
	assert.True(t, (&FaceProfile{Status: ProfileStatusActive, ExpiresAt: &future}).IsAvailableAt(now))
	assert.False(t, (&FaceProfile{Status: ProfileStatusActive, ExpiresAt: &past}).IsAvailableAt(now))
	assert.False(t, (&FaceProfile{Status: ProfileStatusActive, ExpiresAt: &now}).IsAvailableAt(now))
	assert.False(t, (&FaceProfile{Status: ProfileStatusExpired}).IsAvailableAt(now))
	assert.False(t, (&FaceProfile{Status: ProfileStatusDisabled}).IsAvailableAt(now))
}

func TestVerificationContext(t *testing.T) {
	c := VerificationContext{"new_device": "true", "location_anomaly": "0"}
	assert.True(t, c.Bool("new_device"))
	assert.False(t, c.Bool("location_anomaly"))
	assert.False(t, c.Bool("missing"))

	snap := c.Snapshot()
	snap["new_device"] = "false"
	assert.Equal(t, "true", c["new_device"])
	assert.Nil(t, VerificationContext{}.Snapshot())
}

func TestErrorTaxonomy(t *testing.T) {
	dup := &DuplicateProfileError{UserID: "u1"}
	assert.True(t, errors.Is(dup, ErrConflict))

	timeout := &ProviderError{Operation: "compare", Timeout: true, Exhausted: true}
	assert.True(t, errors.Is(timeout, ErrProviderTimeout))

	semantic := &ProviderError{Operation: "add", Code: 223105, Message: "face exists"}
	assert.False(t, errors.Is(semantic, ErrProviderTimeout))
	assert.Contains(t, semantic.Error(), "223105")

	reason, ok := QualityReasonOf(&QualityError{Reason: QualityNoFace})
	assert.True(t, ok)
	assert.Equal(t, QualityNoFace, reason)

	_, ok = QualityReasonOf(errors.New("other"))
	assert.False(t, ok)
}
