package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultStrategyKey names the strategy used when a business type has none of its own
const DefaultStrategyKey = "default"

// VerificationStrategy is the per-business-type verification policy. It is read-only configuration.
type VerificationStrategy struct {
	BusinessType            string           `yaml:"business_type" json:"business_type" validate:"required"`
	DefaultType             VerificationType `yaml:"default_type" json:"default_type" validate:"required,oneof=REQUIRED OPTIONAL FORCED"`
	FrequencyLimit          int              `yaml:"frequency_limit" json:"frequency_limit" validate:"gte=0"`
	FrequencyWindow         time.Duration    `yaml:"frequency_window" json:"frequency_window" validate:"gte=0"`
	TimeWindow              *TimeWindow      `yaml:"time_window" json:"time_window,omitempty"`
	RiskThresholds          RiskThresholds   `yaml:"risk_thresholds" json:"risk_thresholds"`
	RiskWeights             RiskWeights      `yaml:"risk_weights" json:"risk_weights"`
	RiskLookback            time.Duration    `yaml:"risk_lookback" json:"risk_lookback" validate:"gte=0"`
	ForceOnFrequencyBreach  bool             `yaml:"force_on_frequency_breach" json:"force_on_frequency_breach"`
	ForceOnTimeWindowBreach bool             `yaml:"force_on_time_window_breach" json:"force_on_time_window_breach"`
	Params                  map[string]any   `yaml:"params" json:"params,omitempty"`
	Rules                   []StrategyRule   `yaml:"rules" json:"rules,omitempty" validate:"dive"`
}

// TimeWindow is a daily window in which verification is allowed. End before Start wraps past midnight.
type TimeWindow struct {
	Start    string   `yaml:"start" json:"start" validate:"required"`
	End      string   `yaml:"end" json:"end" validate:"required"`
	Timezone string   `yaml:"timezone" json:"timezone,omitempty"`
	Days     []string `yaml:"days" json:"days,omitempty"`
}

// RiskThresholds are the score cut-offs; a score equal to a threshold lands in the higher tier
type RiskThresholds struct {
	Medium float64 `yaml:"medium" json:"medium" validate:"gte=0"`
	High   float64 `yaml:"high" json:"high" validate:"gte=0"`
}

// RiskWeights weight each risk signal in the combined score
type RiskWeights struct {
	FailureRate     float64 `yaml:"failure_rate" json:"failure_rate" validate:"gte=0"`
	NewDevice       float64 `yaml:"new_device" json:"new_device" validate:"gte=0"`
	LocationAnomaly float64 `yaml:"location_anomaly" json:"location_anomaly" validate:"gte=0"`
	DeviceChange    float64 `yaml:"device_change" json:"device_change" validate:"gte=0"`
}

// Default thresholds and weights applied when a strategy leaves them unset
var (
	DefaultRiskThresholds = RiskThresholds{Medium: 0.3, High: 0.6}
	DefaultRiskWeights    = RiskWeights{FailureRate: 0.5, NewDevice: 0.3, LocationAnomaly: 0.4, DeviceChange: 0.2}
)

const DefaultRiskLookback = 24 * time.Hour

// EffectiveThresholds returns the configured thresholds or the defaults
func (s *VerificationStrategy) EffectiveThresholds() RiskThresholds {
	if s.RiskThresholds == (RiskThresholds{}) {
		return DefaultRiskThresholds
	}
	return s.RiskThresholds
}

// EffectiveWeights returns the configured weights or the defaults
func (s *VerificationStrategy) EffectiveWeights() RiskWeights {
	if s.RiskWeights == (RiskWeights{}) {
		return DefaultRiskWeights
	}
	return s.RiskWeights
}

// EffectiveRiskLookback returns the window used for the failure-rate signal
func (s *VerificationStrategy) EffectiveRiskLookback() time.Duration {
	if s.RiskLookback <= 0 {
		return DefaultRiskLookback
	}
	return s.RiskLookback
}

// RuleEffect is what a matching rule imposes
type RuleEffect struct {
	Type VerificationType `yaml:"type" json:"type" validate:"required,oneof=REQUIRED OPTIONAL FORCED"`
	Risk RiskLevel        `yaml:"risk" json:"risk,omitempty" validate:"omitempty,oneof=low medium high"`
}

// StrategyRule is a prioritized condition→effect mapping. Lower Priority wins.
type StrategyRule struct {
	Name      string     `yaml:"name" json:"name" validate:"required"`
	Priority  int        `yaml:"priority" json:"priority"`
	Disabled  bool       `yaml:"disabled" json:"disabled,omitempty"`
	Condition Condition  `yaml:"when" json:"when"`
	Effect    RuleEffect `yaml:"then" json:"then"`
}

// ConditionOp is a comparison operator in a rule condition leaf
type ConditionOp string

const (
	OpEq     ConditionOp = "eq"
	OpNe     ConditionOp = "ne"
	OpGt     ConditionOp = "gt"
	OpGte    ConditionOp = "gte"
	OpLt     ConditionOp = "lt"
	OpLte    ConditionOp = "lte"
	OpIn     ConditionOp = "in"
	OpExists ConditionOp = "exists"
)

// Condition is a node in a rule's predicate tree. Exactly one of All, Any, Not or Field is set;
// a completely empty root condition always matches.
type Condition struct {
	All   []Condition `yaml:"all,omitempty" json:"all,omitempty"`
	Any   []Condition `yaml:"any,omitempty" json:"any,omitempty"`
	Not   *Condition  `yaml:"not,omitempty" json:"not,omitempty"`
	Field string      `yaml:"field,omitempty" json:"field,omitempty"`
	Op    ConditionOp `yaml:"op,omitempty" json:"op,omitempty"`
	Value any         `yaml:"value,omitempty" json:"value,omitempty"`
}

// IsEmpty reports whether the node carries no predicate
func (c *Condition) IsEmpty() bool {
	return len(c.All) == 0 && len(c.Any) == 0 && c.Not == nil && c.Field == ""
}

// Validate checks the tree's shape and operators
func (c *Condition) Validate() error {
	if c.IsEmpty() {
		return nil
	}
	return c.validateNode()
}

func (c *Condition) validateNode() error {
	set := 0
	if len(c.All) > 0 {
		set++
	}
	if len(c.Any) > 0 {
		set++
	}
	if c.Not != nil {
		set++
	}
	if c.Field != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("condition must set exactly one of all, any, not, field (got %d)", set)
	}

	for i := range c.All {
		if err := c.All[i].validateNode(); err != nil {
			return fmt.Errorf("all[%d]: %w", i, err)
		}
	}
	for i := range c.Any {
		if err := c.Any[i].validateNode(); err != nil {
			return fmt.Errorf("any[%d]: %w", i, err)
		}
	}
	if c.Not != nil {
		if err := c.Not.validateNode(); err != nil {
			return fmt.Errorf("not: %w", err)
		}
	}
	if c.Field == "" {
		return nil
	}

	switch c.Op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte:
		if c.Value == nil {
			return fmt.Errorf("field %s: operator %s needs a value", c.Field, c.Op)
		}
		return nil
	case OpIn:
		if _, ok := c.Value.([]any); !ok {
			return fmt.Errorf("field %s: operator in needs a list value", c.Field)
		}
		return nil
	case OpExists:
		return nil
	}
	return fmt.Errorf("field %s: unknown operator %q", c.Field, c.Op)
}

// Facts are the named values a condition is evaluated against
type Facts map[string]any

// Evaluate reports whether the condition holds for facts
func (c *Condition) Evaluate(facts Facts) bool {
	if len(c.All) > 0 {
		for i := range c.All {
			if !c.All[i].Evaluate(facts) {
				return false
			}
		}
		return true
	}
	if len(c.Any) > 0 {
		for i := range c.Any {
			if c.Any[i].Evaluate(facts) {
				return true
			}
		}
		return false
	}
	if c.Not != nil {
		return !c.Not.Evaluate(facts)
	}
	if c.Field == "" {
		return true
	}

	fact, present := facts[c.Field]
	switch c.Op {
	case OpExists:
		want := true
		if b, ok := c.Value.(bool); ok {
			want = b
		}
		return present == want
	case OpEq:
		return present && factEquals(fact, c.Value)
	case OpNe:
		return present && !factEquals(fact, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		if !present {
			return false
		}
		cmp, ok := factCompare(fact, c.Value)
		if !ok {
			return false
		}
		return compareHolds(c.Op, cmp)
	case OpIn:
		if !present {
			return false
		}
		list, _ := c.Value.([]any)
		for _, v := range list {
			if factEquals(fact, v) {
				return true
			}
		}
		return false
	}
	return false
}

func compareHolds(op ConditionOp, cmp int) bool {
	switch op {
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	}
	return false
}

func factEquals(fact, value any) bool {
	switch f := fact.(type) {
	case RiskLevel:
		return string(f) == strings.ToLower(fmt.Sprint(value))
	case bool:
		b, ok := toBool(value)
		return ok && b == f
	case float64, int:
		fv, _ := toFloat(f)
		v, ok := toFloat(value)
		return ok && fv == v
	case string:
		if v, ok := value.(string); ok {
			return f == v
		}
		if fv, ok := toFloat(f); ok {
			if v, ok := toFloat(value); ok {
				return fv == v
			}
		}
		if b, ok := value.(bool); ok {
			fb, ok := toBool(f)
			return ok && fb == b
		}
		return f == fmt.Sprint(value)
	case VerificationResult:
		return string(f) == fmt.Sprint(value)
	}
	return false
}

// factCompare returns -1, 0 or 1 comparing fact to value; ok is false when they are not ordered
func factCompare(fact, value any) (int, bool) {
	if r, ok := fact.(RiskLevel); ok {
		other, err := ParseRiskLevel(strings.ToLower(fmt.Sprint(value)))
		if err != nil {
			return 0, false
		}
		return compareInts(r.Rank(), other.Rank()), true
	}

	fv, ok := toFloat(fact)
	if !ok {
		return 0, false
	}
	v, ok := toFloat(value)
	if !ok {
		return 0, false
	}
	switch {
	case fv < v:
		return -1, true
	case fv > v:
		return 1, true
	}
	return 0, true
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}
