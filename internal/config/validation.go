// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"

	"github.com/ManuGH/segsplit/internal/log"
	"github.com/rs/zerolog"
)

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Validate checks cross-field constraints and returns all violations joined.
func Validate(cfg AppConfig) error {
	var errs []error
	add := func(field, reason string) {
		errs = append(errs, ValidationError{Field: field, Reason: reason})
	}

	if cfg.TempDir == "" {
		add("tempDir", "must not be empty")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		add("logLevel", fmt.Sprintf("unknown level %q", cfg.LogLevel))
	}
	if cfg.FFmpeg.Bin == "" {
		add("ffmpeg.bin", "must not be empty")
	}
	if cfg.FFmpeg.StallTimeout <= 0 {
		add("ffmpeg.stallTimeout", "must be positive")
	}
	if cfg.FFmpeg.KillGrace < 0 {
		add("ffmpeg.killGrace", "must not be negative")
	}

	if cfg.Split.MaxSegmentSeconds < 1 {
		add("split.maxSegmentSeconds", "must be >= 1")
	}
	if cfg.Split.DefaultSegmentSeconds < 1 || cfg.Split.DefaultSegmentSeconds > cfg.Split.MaxSegmentSeconds {
		add("split.defaultSegmentSeconds", fmt.Sprintf("must be within [1, %d]", cfg.Split.MaxSegmentSeconds))
	}
	if cfg.Split.PreciseFPS < 1 || cfg.Split.PreciseFPS > 240 {
		add("split.preciseFPS", "must be within [1, 240]")
	}
	if cfg.Split.MaxUploadBytes <= 0 {
		add("split.maxUploadBytes", "must be positive")
	}

	if cfg.Cleanup.TTL <= 0 {
		add("cleanup.ttl", "must be positive")
	}
	if cfg.Cleanup.Interval <= 0 {
		add("cleanup.interval", "must be positive")
	} else if cfg.Cleanup.TTL > 0 && cfg.Cleanup.Interval >= cfg.Cleanup.TTL {
		add("cleanup.interval", "must be smaller than cleanup.ttl")
	} else if cfg.Cleanup.Interval > cfg.Cleanup.TTL/2 {
		lg := log.WithComponent("config")
		lg.Warn().
			Dur("interval", cfg.Cleanup.Interval).
			Dur("ttl", cfg.Cleanup.TTL).
			Msg("cleanup interval exceeds half the TTL, expired data may linger")
	}
	if cfg.Cleanup.JobRetention <= 0 {
		add("cleanup.jobRetention", "must be positive")
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.RPS <= 0 || cfg.RateLimit.Burst <= 0) {
		add("rateLimit", "rps and burst must be positive when enabled")
	}

	if cfg.Telemetry.Enabled {
		switch cfg.Telemetry.ExporterType {
		case "grpc", "http":
		default:
			add("telemetry.exporter", fmt.Sprintf("unsupported exporter %q", cfg.Telemetry.ExporterType))
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			add("telemetry.samplingRate", "must be within [0, 1]")
		}
	}

	return errors.Join(errs...)
}
