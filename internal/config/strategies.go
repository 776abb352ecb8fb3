package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/BradenHooton/facegate/internal/models"
)

var strategyValidator = validator.New()

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// strategyFile is the on-disk layout of the strategies file
type strategyFile struct {
	Strategies []models.VerificationStrategy `yaml:"strategies"`
}

// StrategySet is the validated, read-only set of verification strategies keyed by business type.
// Rules inside each strategy are already sorted by ascending priority.
type StrategySet struct {
	byType map[string]*models.VerificationStrategy
}

// LoadStrategies reads and validates the strategies file at path
func LoadStrategies(path string) (*StrategySet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategies file: %w", err)
	}
	return ParseStrategies(data)
}

// ParseStrategies decodes and validates a strategies document
func ParseStrategies(data []byte) (*StrategySet, error) {
	var file strategyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode strategies: %w", err)
	}
	return NewStrategySet(file.Strategies)
}

// NewStrategySet validates strategies and indexes them by business type
func NewStrategySet(strategies []models.VerificationStrategy) (*StrategySet, error) {
	set := &StrategySet{byType: make(map[string]*models.VerificationStrategy, len(strategies))}

	for i := range strategies {
		s := strategies[i]
		if err := validateStrategy(&s); err != nil {
			return nil, fmt.Errorf("strategy %q: %w", s.BusinessType, err)
		}
		if _, dup := set.byType[s.BusinessType]; dup {
			return nil, fmt.Errorf("strategy %q: defined more than once", s.BusinessType)
		}

		s.Rules = slices.Clone(s.Rules)
		slices.SortStableFunc(s.Rules, func(a, b models.StrategyRule) int {
			return a.Priority - b.Priority
		})
		set.byType[s.BusinessType] = &s
	}

	return set, nil
}

func validateStrategy(s *models.VerificationStrategy) error {
	if err := strategyValidator.Struct(s); err != nil {
		return err
	}

	th := s.EffectiveThresholds()
	if th.High < th.Medium {
		return fmt.Errorf("risk_thresholds.high (%.2f) must not be below medium (%.2f)", th.High, th.Medium)
	}
	if s.FrequencyLimit > 0 && s.FrequencyWindow <= 0 {
		return fmt.Errorf("frequency_window is required when frequency_limit is set")
	}

	if s.TimeWindow != nil {
		if err := validateTimeWindow(s.TimeWindow); err != nil {
			return fmt.Errorf("time_window: %w", err)
		}
	}

	names := make(map[string]struct{}, len(s.Rules))
	for i := range s.Rules {
		rule := &s.Rules[i]
		if _, dup := names[rule.Name]; dup {
			return fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		names[rule.Name] = struct{}{}
		if err := rule.Condition.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

func validateTimeWindow(w *models.TimeWindow) error {
	if _, err := ParseClock(w.Start); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	if _, err := ParseClock(w.End); err != nil {
		return fmt.Errorf("end: %w", err)
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	for _, d := range w.Days {
		if _, ok := ParseWeekday(d); !ok {
			return fmt.Errorf("unknown day %q", d)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes since midnight
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseWeekday accepts three-letter or full English day names
func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) < 3 {
		return 0, false
	}
	d, ok := weekdays[s[:3]]
	return d, ok
}

// Get returns the strategy configured for exactly businessType
func (s *StrategySet) Get(businessType string) (*models.VerificationStrategy, bool) {
	if s == nil {
		return nil, false
	}
	strategy, ok := s.byType[businessType]
	return strategy, ok
}

// Lookup returns the strategy for businessType, falling back to the default strategy
func (s *StrategySet) Lookup(businessType string) (*models.VerificationStrategy, bool) {
	if strategy, ok := s.Get(businessType); ok {
		return strategy, true
	}
	return s.Get(models.DefaultStrategyKey)
}

// BusinessTypes lists the configured business types in sorted order
func (s *StrategySet) BusinessTypes() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byType))
	for bt := range s.byType {
		out = append(out, bt)
	}
	slices.Sort(out)
	return out
}
