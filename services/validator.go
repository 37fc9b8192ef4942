package services

import (
	"strings"

	"fingergun/apperr"
)

// Bounds are the tunable limits for result validation.
type Bounds struct {
	MaxScore      int
	MaxTargetsHit int
	MaxShotsFired int
	MaxCombo      int
	MinDurationMs int
	MaxDurationMs int
	// Rate checks only run for games at least this long.
	RateCheckMinDurationMs int
	MaxScorePerMinute      float64
	MaxHitsPerMinute       float64
	GameModes              []string
	DefaultGameMode        string
}

// GameResultInput is a result payload as submitted by the client.
type GameResultInput struct {
	Score      int
	TargetsHit int
	ShotsFired int
	MaxCombo   int
	DurationMs int
	GameMode   string
}

// ResultValidator runs range, consistency and rate checks in order and
// stops at the first failure.
type ResultValidator struct {
	bounds Bounds
	modes  map[string]struct{}
}

func NewResultValidator(bounds Bounds) *ResultValidator {
	modes := make(map[string]struct{}, len(bounds.GameModes))
	for _, m := range bounds.GameModes {
		modes[strings.ToLower(m)] = struct{}{}
	}
	return &ResultValidator{bounds: bounds, modes: modes}
}

// Validate returns the normalized input or a VALIDATION_FAILED error naming
// the rule that failed.
func (v *ResultValidator) Validate(in GameResultInput) (GameResultInput, error) {
	in.GameMode = strings.ToLower(strings.TrimSpace(in.GameMode))
	if in.GameMode == "" {
		in.GameMode = v.bounds.DefaultGameMode
	}

	if err := v.checkRanges(in); err != nil {
		return in, err
	}
	if in.ShotsFired > 0 && in.TargetsHit > in.ShotsFired {
		return in, apperr.Validation(apperr.ReasonHitsExceedShots, "targetsHit", "targets hit exceed shots fired")
	}
	if err := v.checkRates(in); err != nil {
		return in, err
	}
	return in, nil
}

func (v *ResultValidator) checkRanges(in GameResultInput) error {
	b := v.bounds
	checks := []struct {
		field    string
		value    int
		min, max int
	}{
		{"score", in.Score, 0, b.MaxScore},
		{"targetsHit", in.TargetsHit, 0, b.MaxTargetsHit},
		{"shotsFired", in.ShotsFired, 0, b.MaxShotsFired},
		{"maxCombo", in.MaxCombo, 1, b.MaxCombo},
		{"durationMs", in.DurationMs, b.MinDurationMs, b.MaxDurationMs},
	}
	for _, c := range checks {
		if c.value < c.min || c.value > c.max {
			return apperr.Validation(apperr.ReasonOutOfRange, c.field, c.field+" is out of range")
		}
	}
	if _, ok := v.modes[in.GameMode]; !ok {
		return apperr.Validation(apperr.ReasonOutOfRange, "gameMode", "unknown game mode")
	}
	return nil
}

func (v *ResultValidator) checkRates(in GameResultInput) error {
	if in.DurationMs < v.bounds.RateCheckMinDurationMs || in.DurationMs <= 0 {
		return nil
	}
	minutes := float64(in.DurationMs) / 60000

	if float64(in.Score)/minutes > v.bounds.MaxScorePerMinute {
		return apperr.Validation(apperr.ReasonRateImplausible, "score", "score rate is implausible")
	}
	if float64(in.TargetsHit)/minutes > v.bounds.MaxHitsPerMinute {
		return apperr.Validation(apperr.ReasonRateImplausible, "targetsHit", "hit rate is implausible")
	}
	return nil
}
