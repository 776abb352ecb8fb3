package services

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/facegate/internal/config"
	"github.com/BradenHooton/facegate/internal/models"
)

var fixedNow = time.Date(2026, 3, 11, 14, 30, 0, 0, time.UTC) // a Wednesday

func newTestDecisionService(t *testing.T, strategies []models.VerificationStrategy, records *MemoryVerificationRecordStore) *DecisionService {
	t.Helper()
	set, err := config.NewStrategySet(strategies)
	require.NoError(t, err)
	if records == nil {
		records = NewMemoryVerificationRecordStore()
	}
	s := NewDecisionService(set, NewHistoryTracker(records), nil, slog.Default())
	s.now = func() time.Time { return fixedNow }
	return s
}

func record(userID, bt string, result models.VerificationResult, at time.Time) *models.VerificationRecord {
	return &models.VerificationRecord{
		ID:               uuid.New(),
		UserID:           userID,
		BusinessType:     bt,
		Result:           result,
		VerificationType: models.VerificationRequired,
		RiskLevel:        models.RiskLow,
		Timestamp:        at,
	}
}

func TestDecisionService_FallbackChain(t *testing.T) {
	strategies := []models.VerificationStrategy{
		{
			BusinessType: "payment",
			DefaultType:  models.VerificationRequired,
			Rules: []models.StrategyRule{{
				Name:      "trusted-device",
				Priority:  10,
				Condition: models.Condition{Field: "context.trusted", Op: models.OpEq, Value: true},
				Effect:    models.RuleEffect{Type: models.VerificationOptional},
			}},
		},
	}
	s := newTestDecisionService(t, strategies, nil)
	ctx := context.Background()

	// matching rule wins
	vt, err := s.GetVerificationType(ctx, "u1", "payment", models.VerificationContext{"trusted": "true"})
	require.NoError(t, err)
	assert.Equal(t, models.VerificationOptional, vt)

	// no rule matches: strategy default
	vt, err = s.GetVerificationType(ctx, "u1", "payment", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationRequired, vt)

	// no strategy and no default strategy: global OPTIONAL
	vt, err = s.GetVerificationType(ctx, "u1", "unknown", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationOptional, vt)
}

func TestDecisionService_DefaultStrategyFallback(t *testing.T) {
	strategies := []models.VerificationStrategy{
		{BusinessType: models.DefaultStrategyKey, DefaultType: models.VerificationForced},
	}
	s := newTestDecisionService(t, strategies, nil)

	vt, err := s.GetVerificationType(context.Background(), "u1", "transfer", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationForced, vt)

	required, err := s.IsVerificationRequired(context.Background(), "u1", "transfer", nil)
	require.NoError(t, err)
	assert.True(t, required)
}

func TestDecisionService_DefaultStrategyReadsCallerHistory(t *testing.T) {
	strategies := []models.VerificationStrategy{{
		BusinessType:    models.DefaultStrategyKey,
		DefaultType:     models.VerificationOptional,
		FrequencyLimit:  2,
		FrequencyWindow: time.Hour,
		Rules: []models.StrategyRule{{
			Name:      "repeated-failures",
			Condition: models.Condition{Field: "history.failure_count", Op: models.OpGte, Value: 2},
			Effect:    models.RuleEffect{Type: models.VerificationForced},
		}},
	}}
	records := NewMemoryVerificationRecordStore(
		record("u1", "transfer", models.VerificationFailed, fixedNow.Add(-time.Minute)),
		record("u1", "transfer", models.VerificationFailed, fixedNow.Add(-30*time.Second)),
	)
	s := newTestDecisionService(t, strategies, records)
	ctx := context.Background()

	allowed, err := s.CheckVerificationFrequency(ctx, "u1", "transfer")
	require.NoError(t, err)
	assert.False(t, allowed)

	vt, err := s.GetVerificationType(ctx, "u1", "transfer", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationForced, vt)

	decision, err := s.Decide(ctx, "u1", "transfer", nil)
	require.NoError(t, err)
	assert.True(t, decision.Required)
	assert.False(t, decision.FrequencyAllowed)
	assert.Equal(t, "repeated-failures", decision.MatchedRule)
	assert.Contains(t, decision.Reasons, "default strategy")

	risk, err := s.AssessVerificationRisk(ctx, "u1", "transfer", nil)
	require.NoError(t, err)
	assert.Equal(t, decision.Risk, risk)

	// history of another business type served by the same default does not count
	decision, err = s.Decide(ctx, "u1", "withdrawal", nil)
	require.NoError(t, err)
	assert.False(t, decision.Required)
	assert.True(t, decision.FrequencyAllowed)
}

func TestDecisionService_IsVerificationRequired_MissingStrategy(t *testing.T) {
	s := newTestDecisionService(t, nil, nil)

	_, err := s.IsVerificationRequired(context.Background(), "u1", "payment", nil)

	var pe *models.PolicyError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "payment", pe.BusinessType)
}

func TestDecisionService_IsVerificationRequired_ByType(t *testing.T) {
	tests := []struct {
		name     string
		vt       models.VerificationType
		expected bool
	}{
		{"required", models.VerificationRequired, true},
		{"forced", models.VerificationForced, true},
		{"optional", models.VerificationOptional, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestDecisionService(t, []models.VerificationStrategy{{BusinessType: "login", DefaultType: tt.vt}}, nil)
			required, err := s.IsVerificationRequired(context.Background(), "u1", "login", nil)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, required)
		})
	}
}

func TestDecisionService_RulePriorityAndTies(t *testing.T) {
	always := models.Condition{}
	strategies := []models.VerificationStrategy{{
		BusinessType: "login",
		DefaultType:  models.VerificationOptional,
		Rules: []models.StrategyRule{
			{Name: "late", Priority: 20, Condition: always, Effect: models.RuleEffect{Type: models.VerificationOptional}},
			{Name: "first-declared", Priority: 5, Condition: always, Effect: models.RuleEffect{Type: models.VerificationForced}},
			{Name: "second-declared", Priority: 5, Condition: always, Effect: models.RuleEffect{Type: models.VerificationRequired}},
			{Name: "disabled", Priority: 1, Disabled: true, Condition: always, Effect: models.RuleEffect{Type: models.VerificationRequired}},
		},
	}}
	s := newTestDecisionService(t, strategies, nil)

	decision, err := s.Decide(context.Background(), "u1", "login", nil)
	require.NoError(t, err)
	assert.Equal(t, "first-declared", decision.MatchedRule)
	assert.Equal(t, models.VerificationForced, decision.Type)
}

func TestDecisionService_Deterministic(t *testing.T) {
	records := NewMemoryVerificationRecordStore(
		record("u1", "payment", models.VerificationFailed, fixedNow.Add(-time.Hour)),
		record("u1", "payment", models.VerificationSuccess, fixedNow.Add(-2*time.Hour)),
	)
	strategies := []models.VerificationStrategy{{
		BusinessType:    "payment",
		DefaultType:     models.VerificationOptional,
		FrequencyLimit:  5,
		FrequencyWindow: time.Hour,
		Rules: []models.StrategyRule{{
			Name:      "risky",
			Priority:  1,
			Condition: models.Condition{Field: "risk", Op: models.OpGte, Value: "medium"},
			Effect:    models.RuleEffect{Type: models.VerificationRequired},
		}},
	}}
	s := newTestDecisionService(t, strategies, records)
	vctx := models.VerificationContext{"new_device": "true"}

	first, err := s.Decide(context.Background(), "u1", "payment", vctx)
	require.NoError(t, err)
	for range 10 {
		next, err := s.Decide(context.Background(), "u1", "payment", vctx)
		require.NoError(t, err)
		assert.Equal(t, first, next)
	}
}

func TestDecisionService_CheckVerificationFrequency(t *testing.T) {
	strategies := []models.VerificationStrategy{{
		BusinessType:    "withdrawal",
		DefaultType:     models.VerificationRequired,
		FrequencyLimit:  3,
		FrequencyWindow: 24 * time.Hour,
	}}

	t.Run("limit minus one passes", func(t *testing.T) {
		records := NewMemoryVerificationRecordStore(
			record("u1", "withdrawal", models.VerificationSuccess, fixedNow.Add(-time.Hour)),
			record("u1", "withdrawal", models.VerificationSuccess, fixedNow.Add(-2*time.Hour)),
		)
		s := newTestDecisionService(t, strategies, records)
		ok, err := s.CheckVerificationFrequency(context.Background(), "u1", "withdrawal")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("limit fails", func(t *testing.T) {
		records := NewMemoryVerificationRecordStore(
			record("u1", "withdrawal", models.VerificationSuccess, fixedNow.Add(-time.Hour)),
			record("u1", "withdrawal", models.VerificationFailed, fixedNow.Add(-2*time.Hour)),
			record("u1", "withdrawal", models.VerificationSuccess, fixedNow.Add(-3*time.Hour)),
		)
		s := newTestDecisionService(t, strategies, records)
		ok, err := s.CheckVerificationFrequency(context.Background(), "u1", "withdrawal")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("records outside the window are ignored", func(t *testing.T) {
		records := NewMemoryVerificationRecordStore(
			record("u1", "withdrawal", models.VerificationSuccess, fixedNow.Add(-time.Hour)),
			record("u1", "withdrawal", models.VerificationSuccess, fixedNow.Add(-2*time.Hour)),
			record("u1", "withdrawal", models.VerificationSuccess, fixedNow.Add(-48*time.Hour)),
			record("u2", "withdrawal", models.VerificationSuccess, fixedNow.Add(-time.Hour)),
		)
		s := newTestDecisionService(t, strategies, records)
		ok, err := s.CheckVerificationFrequency(context.Background(), "u1", "withdrawal")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("no strategy is permissive", func(t *testing.T) {
		s := newTestDecisionService(t, strategies, nil)
		ok, err := s.CheckVerificationFrequency(context.Background(), "u1", "unknown")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestWithinTimeWindow(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2026, 3, 11, h, m, 0, 0, time.UTC) } // Wednesday

	tests := []struct {
		name     string
		window   *models.TimeWindow
		now      time.Time
		expected bool
	}{
		{"no window", nil, at(3, 0), true},
		{"equal bounds is all day", &models.TimeWindow{Start: "09:00", End: "09:00"}, at(3, 0), true},
		{"inside normal window", &models.TimeWindow{Start: "09:00", End: "17:00"}, at(9, 0), true},
		{"end is exclusive", &models.TimeWindow{Start: "09:00", End: "17:00"}, at(17, 0), false},
		{"before normal window", &models.TimeWindow{Start: "09:00", End: "17:00"}, at(8, 59), false},
		{"wrap evening side", &models.TimeWindow{Start: "22:00", End: "06:00"}, at(23, 30), true},
		{"wrap morning side", &models.TimeWindow{Start: "22:00", End: "06:00"}, at(5, 59), true},
		{"wrap outside", &models.TimeWindow{Start: "22:00", End: "06:00"}, at(12, 0), false},
		{"day filter matches", &models.TimeWindow{Start: "09:00", End: "17:00", Days: []string{"wed"}}, at(10, 0), true},
		{"day filter excludes", &models.TimeWindow{Start: "09:00", End: "17:00", Days: []string{"mon", "tue"}}, at(10, 0), false},
		{"wrap morning belongs to previous day", &models.TimeWindow{Start: "22:00", End: "06:00", Days: []string{"tuesday"}}, at(2, 0), true},
		{"timezone shifts the clock", &models.TimeWindow{Start: "09:00", End: "17:00", Timezone: "Asia/Shanghai"}, at(2, 0), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, withinTimeWindow(tt.window, tt.now))
		})
	}
}

func TestDecisionService_AssessVerificationRisk(t *testing.T) {
	strategies := []models.VerificationStrategy{{
		BusinessType:   "payment",
		DefaultType:    models.VerificationOptional,
		RiskThresholds: models.RiskThresholds{Medium: 0.3, High: 0.6},
		RiskWeights:    models.RiskWeights{FailureRate: 0.5, NewDevice: 0.3, LocationAnomaly: 0.6, DeviceChange: 0.1},
	}}
	s := newTestDecisionService(t, strategies, nil)

	tests := []struct {
		name     string
		vctx     models.VerificationContext
		expected models.RiskLevel
	}{
		{"no signals", nil, models.RiskLow},
		{"exactly medium rounds up", models.VerificationContext{"new_device": "true"}, models.RiskMedium},
		{"exactly high rounds up", models.VerificationContext{"location_anomaly": "1"}, models.RiskHigh},
		{"below medium", models.VerificationContext{"device_changed": "yes"}, models.RiskLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, err := s.AssessVerificationRisk(context.Background(), "u1", "payment", tt.vctx)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}
}

func TestDecisionService_RiskUsesFailureRateInLookback(t *testing.T) {
	records := NewMemoryVerificationRecordStore(
		record("u1", "payment", models.VerificationFailed, fixedNow.Add(-time.Hour)),
		record("u1", "payment", models.VerificationTimeout, fixedNow.Add(-2*time.Hour)),
		record("u1", "payment", models.VerificationSuccess, fixedNow.Add(-72*time.Hour)),
	)
	strategies := []models.VerificationStrategy{{
		BusinessType: "payment",
		DefaultType:  models.VerificationOptional,
		RiskLookback: 24 * time.Hour,
		RiskWeights:  models.RiskWeights{FailureRate: 1},
	}}
	s := newTestDecisionService(t, strategies, records)

	decision, err := s.Decide(context.Background(), "u1", "payment", nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, decision.RiskScore, 1e-9)
	assert.Equal(t, models.RiskHigh, decision.Risk)
}

func TestDecisionService_RuleRiskOnlyEscalates(t *testing.T) {
	strategies := []models.VerificationStrategy{{
		BusinessType: "login",
		DefaultType:  models.VerificationOptional,
		Rules: []models.StrategyRule{{
			Name:      "downgrade",
			Priority:  1,
			Condition: models.Condition{},
			Effect:    models.RuleEffect{Type: models.VerificationRequired, Risk: models.RiskLow},
		}},
	}}
	s := newTestDecisionService(t, strategies, nil)

	decision, err := s.Decide(context.Background(), "u1", "login", models.VerificationContext{"location_anomaly": "true"})
	require.NoError(t, err)
	assert.Equal(t, models.RiskMedium, decision.Risk)
	assert.True(t, decision.Required)
}

func TestDecisionService_ForceKnobs(t *testing.T) {
	records := NewMemoryVerificationRecordStore(
		record("u1", "login", models.VerificationSuccess, fixedNow.Add(-time.Minute)),
	)
	base := models.VerificationStrategy{
		BusinessType:    "login",
		DefaultType:     models.VerificationOptional,
		FrequencyLimit:  1,
		FrequencyWindow: time.Hour,
		TimeWindow:      &models.TimeWindow{Start: "00:00", End: "01:00"},
	}

	t.Run("knobs off keep optional", func(t *testing.T) {
		s := newTestDecisionService(t, []models.VerificationStrategy{base}, records)
		decision, err := s.Decide(context.Background(), "u1", "login", nil)
		require.NoError(t, err)
		assert.False(t, decision.FrequencyAllowed)
		assert.False(t, decision.WithinTimeWindow)
		assert.False(t, decision.Required)
	})

	t.Run("frequency breach forces", func(t *testing.T) {
		st := base
		st.ForceOnFrequencyBreach = true
		s := newTestDecisionService(t, []models.VerificationStrategy{st}, records)
		required, err := s.IsVerificationRequired(context.Background(), "u1", "login", nil)
		require.NoError(t, err)
		assert.True(t, required)
	})

	t.Run("time window breach forces", func(t *testing.T) {
		st := base
		st.ForceOnTimeWindowBreach = true
		s := newTestDecisionService(t, []models.VerificationStrategy{st}, nil)
		decision, err := s.Decide(context.Background(), "u1", "login", nil)
		require.NoError(t, err)
		assert.True(t, decision.Required)
		assert.Equal(t, models.VerificationOptional, decision.Type)
		assert.Contains(t, decision.Reasons, "outside allowed time window")
	})
}

func TestDecisionService_HistoryFacts(t *testing.T) {
	records := NewMemoryVerificationRecordStore(
		record("u1", "login", models.VerificationFailed, fixedNow.Add(-10*time.Minute)),
	)
	strategies := []models.VerificationStrategy{{
		BusinessType: "login",
		DefaultType:  models.VerificationOptional,
		Rules: []models.StrategyRule{{
			Name:     "recent-failure",
			Priority: 1,
			Condition: models.Condition{All: []models.Condition{
				{Field: "history.last_result", Op: models.OpEq, Value: "FAILED"},
				{Field: "history.minutes_since_last", Op: models.OpLt, Value: 30},
			}},
			Effect: models.RuleEffect{Type: models.VerificationForced},
		}},
	}}
	s := newTestDecisionService(t, strategies, records)

	vt, err := s.GetVerificationType(context.Background(), "u1", "login", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationForced, vt)

	vt, err = s.GetVerificationType(context.Background(), "u2", "login", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationOptional, vt)
}

type stubProfileChecker struct{ available bool }

func (s stubProfileChecker) IsFaceProfileAvailable(ctx context.Context, userID string) (bool, error) {
	return s.available, nil
}

func TestDecisionService_ProfileFact(t *testing.T) {
	strategies := []models.VerificationStrategy{{
		BusinessType: "login",
		DefaultType:  models.VerificationRequired,
		Rules: []models.StrategyRule{{
			Name:      "no-face-yet",
			Priority:  1,
			Condition: models.Condition{Field: "profile.available", Op: models.OpEq, Value: false},
			Effect:    models.RuleEffect{Type: models.VerificationOptional},
		}},
	}}
	s := newTestDecisionService(t, strategies, nil)

	s.profiles = stubProfileChecker{available: false}
	vt, err := s.GetVerificationType(context.Background(), "u1", "login", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationOptional, vt)

	s.profiles = stubProfileChecker{available: true}
	vt, err = s.GetVerificationType(context.Background(), "u1", "login", nil)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationRequired, vt)
}

func TestDecisionService_GetVerificationConfig(t *testing.T) {
	strategies := []models.VerificationStrategy{{
		BusinessType: "payment",
		DefaultType:  models.VerificationRequired,
		Params:       map[string]any{"max_amount": 500},
	}}
	s := newTestDecisionService(t, strategies, nil)

	assert.Equal(t, 500, s.GetVerificationConfig("payment", "max_amount", 0))
	assert.Equal(t, "fallback", s.GetVerificationConfig("payment", "missing", "fallback"))
	assert.Nil(t, s.GetVerificationConfig("unknown", "max_amount", nil))
}

func TestDecisionService_GetVerificationStrategy(t *testing.T) {
	s := newTestDecisionService(t, []models.VerificationStrategy{{BusinessType: "payment", DefaultType: models.VerificationRequired}}, nil)

	assert.Equal(t, models.VerificationRequired, s.GetVerificationStrategy("payment").DefaultType)

	unknown := s.GetVerificationStrategy("unknown")
	require.NotNil(t, unknown)
	assert.Equal(t, "unknown", unknown.BusinessType)
	assert.Empty(t, unknown.Rules)
}
