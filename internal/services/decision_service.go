package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/BradenHooton/facegate/internal/config"
	"github.com/BradenHooton/facegate/internal/models"
)

// StrategySource resolves verification strategies by business type
type StrategySource interface {
	Get(businessType string) (*models.VerificationStrategy, bool)
	Lookup(businessType string) (*models.VerificationStrategy, bool)
}

// ProfileChecker reports whether a user can currently be verified against a stored face
type ProfileChecker interface {
	IsFaceProfileAvailable(ctx context.Context, userID string) (bool, error)
}

// Context keys read as risk signals
const (
	SignalNewDevice       = "new_device"
	SignalLocationAnomaly = "location_anomaly"
	SignalDeviceChanged   = "device_changed"
)

// DecisionService decides whether, and how strongly, a user must verify for a business operation.
// It never mutates state; the clock is injectable so decisions are reproducible.
type DecisionService struct {
	strategies StrategySource
	history    *HistoryTracker
	profiles   ProfileChecker
	logger     *slog.Logger
	now        func() time.Time
}

// NewDecisionService creates a new DecisionService. profiles may be nil, in which case the
// profile.available fact is not offered to rules.
func NewDecisionService(strategies StrategySource, history *HistoryTracker, profiles ProfileChecker, logger *slog.Logger) *DecisionService {
	return &DecisionService{
		strategies: strategies,
		history:    history,
		profiles:   profiles,
		logger:     logger,
		now:        time.Now,
	}
}

// IsVerificationRequired reports whether the user must verify. A missing strategy is a PolicyError.
func (s *DecisionService) IsVerificationRequired(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (bool, error) {
	decision, err := s.Decide(ctx, userID, businessType, vctx)
	if err != nil {
		return false, err
	}
	return decision.Required, nil
}

// GetVerificationType resolves the type through matching rule, then strategy default, then OPTIONAL
func (s *DecisionService) GetVerificationType(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (models.VerificationType, error) {
	strategy, ok := s.strategies.Lookup(businessType)
	if !ok {
		return models.VerificationOptional, nil
	}

	ev, err := s.evaluate(ctx, strategy, userID, businessType, vctx)
	if err != nil {
		return "", err
	}
	return ev.verificationType, nil
}

// GetVerificationStrategy returns the effective strategy, or an empty one for unknown business types
func (s *DecisionService) GetVerificationStrategy(businessType string) *models.VerificationStrategy {
	if strategy, ok := s.strategies.Lookup(businessType); ok {
		return strategy
	}
	return &models.VerificationStrategy{BusinessType: businessType}
}

// GetUserVerificationHistory aggregates the user's records since the given time (nil = all)
func (s *DecisionService) GetUserVerificationHistory(ctx context.Context, userID, businessType string, since *time.Time) (*models.HistoryStats, error) {
	return s.history.Stats(ctx, userID, businessType, since)
}

// CheckVerificationFrequency reports whether the user is still under the strategy's frequency cap
func (s *DecisionService) CheckVerificationFrequency(ctx context.Context, userID, businessType string) (bool, error) {
	strategy, ok := s.strategies.Lookup(businessType)
	if !ok {
		return true, nil
	}
	return s.frequencyAllowed(ctx, strategy, userID, businessType, s.now())
}

// CheckVerificationTimeWindow reports whether now falls inside the strategy's allowed window
func (s *DecisionService) CheckVerificationTimeWindow(businessType string) bool {
	strategy, ok := s.strategies.Lookup(businessType)
	if !ok {
		return true
	}
	return withinTimeWindow(strategy.TimeWindow, s.now())
}

// AssessVerificationRisk computes the risk tier from history and context signals
func (s *DecisionService) AssessVerificationRisk(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (models.RiskLevel, error) {
	strategy := s.GetVerificationStrategy(businessType)

	since := s.now().Add(-strategy.EffectiveRiskLookback())
	stats, err := s.history.Stats(ctx, userID, businessType, &since)
	if err != nil {
		return "", err
	}

	level, _ := assessRisk(strategy, stats, vctx)
	return level, nil
}

// GetVerificationConfig returns a strategy parameter, or def when it is not set
func (s *DecisionService) GetVerificationConfig(businessType, key string, def any) any {
	strategy, ok := s.strategies.Lookup(businessType)
	if !ok || strategy.Params == nil {
		return def
	}
	if v, ok := strategy.Params[key]; ok {
		return v
	}
	return def
}

// Decide computes the full decision in one pass. It fails with a PolicyError when neither the
// business type nor the default strategy is configured.
func (s *DecisionService) Decide(ctx context.Context, userID, businessType string, vctx models.VerificationContext) (*models.VerificationDecision, error) {
	strategy, ok := s.strategies.Lookup(businessType)
	if !ok {
		s.logger.ErrorContext(ctx, "no verification strategy configured",
			slog.String("business_type", businessType),
		)
		return nil, &models.PolicyError{BusinessType: businessType, Reason: "no strategy configured and no default strategy"}
	}

	ev, err := s.evaluate(ctx, strategy, userID, businessType, vctx)
	if err != nil {
		return nil, err
	}
	if _, exact := s.strategies.Get(businessType); !exact {
		ev.reasons = append([]string{"default strategy"}, ev.reasons...)
	}

	decision := &models.VerificationDecision{
		UserID:           userID,
		BusinessType:     businessType,
		Type:             ev.verificationType,
		Risk:             ev.risk,
		RiskScore:        ev.score,
		MatchedRule:      ev.matchedRule,
		FrequencyAllowed: ev.frequencyAllowed,
		WithinTimeWindow: ev.withinWindow,
		Reasons:          ev.reasons,
		EvaluatedAt:      ev.at,
	}

	mandatory, err := ev.verificationType.IsMandatory()
	if err != nil {
		return nil, &models.PolicyError{BusinessType: businessType, Reason: err.Error()}
	}
	decision.Required = mandatory
	if !mandatory {
		if strategy.ForceOnFrequencyBreach && !ev.frequencyAllowed {
			decision.Required = true
			decision.Reasons = append(decision.Reasons, "frequency limit reached")
		}
		if strategy.ForceOnTimeWindowBreach && !ev.withinWindow {
			decision.Required = true
			decision.Reasons = append(decision.Reasons, "outside allowed time window")
		}
	}

	observeDecision(businessType, string(decision.Type), decision.Required)
	s.logger.DebugContext(ctx, "verification decision",
		slog.String("user_id", userID),
		slog.String("business_type", businessType),
		slog.String("verification_type", string(decision.Type)),
		slog.Bool("required", decision.Required),
		slog.String("risk_level", string(decision.Risk)),
		slog.String("matched_rule", decision.MatchedRule),
	)

	return decision, nil
}

type evaluation struct {
	at               time.Time
	verificationType models.VerificationType
	risk             models.RiskLevel
	score            float64
	matchedRule      string
	frequencyAllowed bool
	withinWindow     bool
	reasons          []string
}

// evaluate applies strategy to the history recorded under businessType, which differs from
// strategy.BusinessType when the default strategy is serving it.
func (s *DecisionService) evaluate(ctx context.Context, strategy *models.VerificationStrategy, userID, businessType string, vctx models.VerificationContext) (*evaluation, error) {
	now := s.now()
	ev := &evaluation{at: now}

	since := now.Add(-strategy.EffectiveRiskLookback())
	stats, err := s.history.Stats(ctx, userID, businessType, &since)
	if err != nil {
		return nil, err
	}

	ev.frequencyAllowed, err = s.frequencyAllowed(ctx, strategy, userID, businessType, now)
	if err != nil {
		return nil, err
	}
	ev.withinWindow = withinTimeWindow(strategy.TimeWindow, now)
	ev.risk, ev.score = assessRisk(strategy, stats, vctx)

	facts := models.Facts{
		"risk":                  ev.risk,
		"history.count":         stats.Count,
		"history.success_count": stats.SuccessCount,
		"history.failure_count": stats.FailureCount,
		"history.success_rate":  stats.SuccessRate,
		"frequency.exceeded":    !ev.frequencyAllowed,
		"time_window.outside":   !ev.withinWindow,
	}
	if stats.LastResult != nil {
		facts["history.last_result"] = *stats.LastResult
		facts["history.minutes_since_last"] = now.Sub(*stats.LastTimestamp).Minutes()
	}
	for k, v := range vctx {
		facts["context."+k] = v
	}
	if s.profiles != nil {
		available, err := s.profiles.IsFaceProfileAvailable(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to check face profile: %w", err)
		}
		facts["profile.available"] = available
	}

	ev.verificationType = strategy.DefaultType
	for i := range strategy.Rules {
		rule := &strategy.Rules[i]
		if rule.Disabled || !rule.Condition.Evaluate(facts) {
			continue
		}
		ev.verificationType = rule.Effect.Type
		ev.matchedRule = rule.Name
		ev.reasons = append(ev.reasons, "rule "+rule.Name)
		if rule.Effect.Risk != "" {
			ev.risk = models.MaxRisk(ev.risk, rule.Effect.Risk)
		}
		break
	}
	if ev.verificationType == "" {
		ev.verificationType = models.VerificationOptional
	}

	return ev, nil
}

func (s *DecisionService) frequencyAllowed(ctx context.Context, strategy *models.VerificationStrategy, userID, businessType string, now time.Time) (bool, error) {
	if strategy.FrequencyLimit <= 0 || strategy.FrequencyWindow <= 0 {
		return true, nil
	}
	count, err := s.history.CountSince(ctx, userID, businessType, now.Add(-strategy.FrequencyWindow))
	if err != nil {
		return false, err
	}
	return count < strategy.FrequencyLimit, nil
}

// assessRisk returns the tier and the raw weighted score
func assessRisk(strategy *models.VerificationStrategy, stats *models.HistoryStats, vctx models.VerificationContext) (models.RiskLevel, float64) {
	w := strategy.EffectiveWeights()
	score := w.FailureRate * stats.FailureRate()
	if vctx.Bool(SignalNewDevice) {
		score += w.NewDevice
	}
	if vctx.Bool(SignalLocationAnomaly) {
		score += w.LocationAnomaly
	}
	if vctx.Bool(SignalDeviceChanged) {
		score += w.DeviceChange
	}

	t := strategy.EffectiveThresholds()
	switch {
	case score >= t.High:
		return models.RiskHigh, score
	case score >= t.Medium:
		return models.RiskMedium, score
	}
	return models.RiskLow, score
}

// withinTimeWindow reports whether now is inside w. Equal start and end mean the whole day;
// end before start wraps past midnight, and the early-morning part belongs to the previous day.
func withinTimeWindow(w *models.TimeWindow, now time.Time) bool {
	if w == nil {
		return true
	}

	loc := time.UTC
	if w.Timezone != "" {
		if l, err := time.LoadLocation(w.Timezone); err == nil {
			loc = l
		}
	}
	t := now.In(loc)

	start, err := config.ParseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := config.ParseClock(w.End)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()

	day := t.Weekday()
	var inside bool
	switch {
	case start == end:
		inside = true
	case start < end:
		inside = minute >= start && minute < end
	default:
		inside = minute >= start || minute < end
		if minute < end {
			day = t.AddDate(0, 0, -1).Weekday()
		}
	}
	if !inside || len(w.Days) == 0 {
		return inside
	}

	return slices.ContainsFunc(w.Days, func(d string) bool {
		wd, ok := config.ParseWeekday(d)
		return ok && wd == day
	})
}
