package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_EmptyRootAlwaysMatches(t *testing.T) {
	var c Condition
	require.NoError(t, c.Validate())
	assert.True(t, c.Evaluate(Facts{}))
}

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{name: "leaf eq", cond: Condition{Field: "risk", Op: OpEq, Value: "high"}},
		{name: "leaf exists without value", cond: Condition{Field: "context.new_device", Op: OpExists}},
		{name: "in with list", cond: Condition{Field: "risk", Op: OpIn, Value: []any{"medium", "high"}}},
		{name: "in without list", cond: Condition{Field: "risk", Op: OpIn, Value: "high"}, wantErr: true},
		{name: "unknown operator", cond: Condition{Field: "risk", Op: "matches", Value: ".*"}, wantErr: true},
		{name: "missing value", cond: Condition{Field: "risk", Op: OpGte}, wantErr: true},
		{
			name:    "two node kinds",
			cond:    Condition{Field: "risk", Op: OpEq, Value: "high", Not: &Condition{Field: "x", Op: OpExists}},
			wantErr: true,
		},
		{
			name:    "empty nested node",
			cond:    Condition{All: []Condition{{}}},
			wantErr: true,
		},
		{
			name: "nested tree",
			cond: Condition{Any: []Condition{
				{Field: "history.failure_count", Op: OpGte, Value: 3},
				{Not: &Condition{Field: "profile.available", Op: OpEq, Value: true}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCondition_Evaluate(t *testing.T) {
	facts := Facts{
		"risk":                  RiskMedium,
		"history.count":         4,
		"history.failure_count": 2,
		"history.success_rate":  0.5,
		"history.last_result":   VerificationFailed,
		"profile.available":     true,
		"context.new_device":    "true",
		"context.amount":        "1500.50",
		"context.channel":       "mobile",
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{name: "risk gte medium", cond: Condition{Field: "risk", Op: OpGte, Value: "medium"}, want: true},
		{name: "risk gte high", cond: Condition{Field: "risk", Op: OpGte, Value: "high"}, want: false},
		{name: "risk lt high", cond: Condition{Field: "risk", Op: OpLt, Value: "HIGH"}, want: true},
		{name: "risk eq", cond: Condition{Field: "risk", Op: OpEq, Value: "medium"}, want: true},
		{name: "risk in", cond: Condition{Field: "risk", Op: OpIn, Value: []any{"high", "medium"}}, want: true},
		{name: "numeric gte", cond: Condition{Field: "history.failure_count", Op: OpGte, Value: 2}, want: true},
		{name: "numeric gt", cond: Condition{Field: "history.failure_count", Op: OpGt, Value: 2}, want: false},
		{name: "float lte", cond: Condition{Field: "history.success_rate", Op: OpLte, Value: 0.5}, want: true},
		{name: "last result eq", cond: Condition{Field: "history.last_result", Op: OpEq, Value: "FAILED"}, want: true},
		{name: "bool eq", cond: Condition{Field: "profile.available", Op: OpEq, Value: true}, want: true},
		{name: "context string bool", cond: Condition{Field: "context.new_device", Op: OpEq, Value: true}, want: true},
		{name: "context numeric compare", cond: Condition{Field: "context.amount", Op: OpGt, Value: 1000}, want: true},
		{name: "context string eq", cond: Condition{Field: "context.channel", Op: OpEq, Value: "mobile"}, want: true},
		{name: "context string ne", cond: Condition{Field: "context.channel", Op: OpNe, Value: "web"}, want: true},
		{name: "missing field never matches eq", cond: Condition{Field: "context.country", Op: OpEq, Value: "KZ"}, want: false},
		{name: "missing field never matches ne", cond: Condition{Field: "context.country", Op: OpNe, Value: "KZ"}, want: false},
		{name: "exists", cond: Condition{Field: "context.channel", Op: OpExists}, want: true},
		{name: "not exists", cond: Condition{Field: "context.country", Op: OpExists, Value: false}, want: true},
		{
			name: "all requires every child",
			cond: Condition{All: []Condition{
				{Field: "risk", Op: OpGte, Value: "medium"},
				{Field: "context.channel", Op: OpEq, Value: "web"},
			}},
			want: false,
		},
		{
			name: "any requires one child",
			cond: Condition{Any: []Condition{
				{Field: "risk", Op: OpEq, Value: "high"},
				{Field: "context.channel", Op: OpEq, Value: "mobile"},
			}},
			want: true,
		},
		{
			name: "not negates",
			cond: Condition{Not: &Condition{Field: "profile.available", Op: OpEq, Value: true}},
			want: false,
		},
		{name: "string vs ordered compare", cond: Condition{Field: "context.channel", Op: OpGt, Value: 3}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.cond.Validate())
			assert.Equal(t, tt.want, tt.cond.Evaluate(facts))
		})
	}
}

func TestVerificationStrategy_EffectiveDefaults(t *testing.T) {
	s := &VerificationStrategy{BusinessType: "payment", DefaultType: VerificationOptional}

	assert.Equal(t, DefaultRiskThresholds, s.EffectiveThresholds())
	assert.Equal(t, DefaultRiskWeights, s.EffectiveWeights())
	assert.Equal(t, DefaultRiskLookback, s.EffectiveRiskLookback())

	s.RiskThresholds = RiskThresholds{Medium: 0.2, High: 0.5}
	assert.Equal(t, 0.5, s.EffectiveThresholds().High)
}
