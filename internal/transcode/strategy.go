// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"fmt"
	"strings"

	"github.com/ManuGH/segsplit/internal/jobs"
)

// Strategy is the encoding policy of one attempt.
type Strategy string

const (
	// StrategyFast remuxes without re-encoding. Cuts land on the nearest
	// source keyframe.
	StrategyFast Strategy = "fast"
	// StrategyPrecise re-encodes with a closed GOP aligned to the segment
	// length so every cut is exact.
	StrategyPrecise Strategy = "precise"
)

// Preference is the strategy choice requested for a job.
type Preference string

const (
	PreferFast             Preference = "fast"
	PreferPrecise          Preference = "precise"
	PreferFastWithFallback Preference = "fast-with-fallback"
)

// ParsePreference accepts the canonical names plus the upload form aliases
// "copy" and "reencode". Empty selects fast-with-fallback.
func ParsePreference(s string) (Preference, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", string(PreferFastWithFallback):
		return PreferFastWithFallback, nil
	case string(PreferFast), "copy":
		return PreferFast, nil
	case string(PreferPrecise), "reencode", "re-encode":
		return PreferPrecise, nil
	default:
		return "", fmt.Errorf("%w: unknown strategy preference %q", jobs.ErrInvalidInput, s)
	}
}

// Plan returns the ordered strategies a job may run. A fallback is only
// planned when the preference asks for it and fallback is enabled.
func (p Preference) Plan(fallbackEnabled bool) []Strategy {
	switch p {
	case PreferPrecise:
		return []Strategy{StrategyPrecise}
	case PreferFastWithFallback:
		if fallbackEnabled {
			return []Strategy{StrategyFast, StrategyPrecise}
		}
		return []Strategy{StrategyFast}
	default:
		return []Strategy{StrategyFast}
	}
}
