package domain

import (
	"fmt"
	"time"
)

// Settings is the single versioned tracker configuration record. Every field
// is validated at the update boundary; consuming code never re-checks ranges.
type Settings struct {
	AutoCheckEnabled      bool
	CheckIntervalMinutes  int
	StaleThresholdMinutes int
	DailyCreditBudget     int
	MinTokenCount         int
	MaxSignatures         int
	MaxPositionsPerRun    int

	Version   int
	UpdatedAt time.Time
}

// DefaultSettings mirrors the seed row written by the initial migration.
func DefaultSettings() Settings {
	return Settings{
		AutoCheckEnabled:      true,
		CheckIntervalMinutes:  30,
		StaleThresholdMinutes: 15,
		DailyCreditBudget:     500,
		MinTokenCount:         2,
		MaxSignatures:         50,
		MaxPositionsPerRun:    50,
	}
}

// Validate enforces the accepted range for every settings field.
func (s Settings) Validate() error {
	if s.CheckIntervalMinutes < 1 || s.CheckIntervalMinutes > 1440 {
		return fmt.Errorf("check_interval_minutes must be in [1, 1440], got %d", s.CheckIntervalMinutes)
	}
	if s.StaleThresholdMinutes < 1 || s.StaleThresholdMinutes > 1440 {
		return fmt.Errorf("stale_threshold_minutes must be in [1, 1440], got %d", s.StaleThresholdMinutes)
	}
	if s.DailyCreditBudget < 0 {
		return fmt.Errorf("daily_credit_budget must be >= 0, got %d", s.DailyCreditBudget)
	}
	if s.MinTokenCount < 1 || s.MinTokenCount > 10 {
		return fmt.Errorf("min_token_count must be in [1, 10], got %d", s.MinTokenCount)
	}
	if s.MaxSignatures < 10 || s.MaxSignatures > 200 {
		return fmt.Errorf("max_signatures must be in [10, 200], got %d", s.MaxSignatures)
	}
	if s.MaxPositionsPerRun < 1 || s.MaxPositionsPerRun > 200 {
		return fmt.Errorf("max_positions_per_run must be in [1, 200], got %d", s.MaxPositionsPerRun)
	}
	return nil
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	AutoCheckEnabled      *bool
	CheckIntervalMinutes  *int
	StaleThresholdMinutes *int
	DailyCreditBudget     *int
	MinTokenCount         *int
	MaxSignatures         *int
	MaxPositionsPerRun    *int
}

// ApplyTo merges the patch onto s and returns the result. The result still
// needs Validate before persisting.
func (p SettingsPatch) ApplyTo(s Settings) Settings {
	if p.AutoCheckEnabled != nil {
		s.AutoCheckEnabled = *p.AutoCheckEnabled
	}
	if p.CheckIntervalMinutes != nil {
		s.CheckIntervalMinutes = *p.CheckIntervalMinutes
	}
	if p.StaleThresholdMinutes != nil {
		s.StaleThresholdMinutes = *p.StaleThresholdMinutes
	}
	if p.DailyCreditBudget != nil {
		s.DailyCreditBudget = *p.DailyCreditBudget
	}
	if p.MinTokenCount != nil {
		s.MinTokenCount = *p.MinTokenCount
	}
	if p.MaxSignatures != nil {
		s.MaxSignatures = *p.MaxSignatures
	}
	if p.MaxPositionsPerRun != nil {
		s.MaxPositionsPerRun = *p.MaxPositionsPerRun
	}
	return s
}
