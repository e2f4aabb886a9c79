// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version    string
	LogLevel   string
	ListenAddr string
	// TempDir is the root under which inputs and job output directories live.
	TempDir    string
	AdminToken string

	FFmpeg    FFmpegConfig
	Split     SplitConfig
	Cleanup   CleanupConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Telemetry TelemetryConfig
}

// FFmpegConfig controls how the external transcoder is located and supervised.
type FFmpegConfig struct {
	Bin          string
	FFprobeBin   string
	StartTimeout time.Duration // time allowed until the first progress block
	StallTimeout time.Duration // time allowed between progress blocks
	KillGrace    time.Duration // SIGTERM to SIGKILL escalation delay
}

// SplitConfig holds job parameter policy.
type SplitConfig struct {
	DefaultSegmentSeconds int
	MaxSegmentSeconds     int
	FallbackEnabled       bool
	PreciseFPS            int
	MaxUploadBytes        int64
}

// CleanupConfig holds the storage janitor and registry retention settings.
type CleanupConfig struct {
	TTL          time.Duration
	Interval     time.Duration
	MaxBytes     int64
	JobRetention time.Duration
}

type RateLimitConfig struct {
	Enabled bool
	RPS     int
	Burst   int
}

type MetricsConfig struct {
	Enabled bool
	// Addr serves /metrics on a dedicated listener when set.
	Addr string
}

type TelemetryConfig struct {
	Enabled      bool
	ExporterType string // "grpc" or "http"
	Endpoint     string
	SamplingRate float64
}

// FileConfig is the YAML representation. Pointer fields distinguish "unset"
// from zero values so that defaults survive partial files.
type FileConfig struct {
	LogLevel   string `yaml:"logLevel,omitempty"`
	ListenAddr string `yaml:"listenAddr,omitempty"`
	TempDir    string `yaml:"tempDir,omitempty"`
	AdminToken string `yaml:"adminToken,omitempty"`

	FFmpeg    *FFmpegFile    `yaml:"ffmpeg,omitempty"`
	Split     *SplitFile     `yaml:"split,omitempty"`
	Cleanup   *CleanupFile   `yaml:"cleanup,omitempty"`
	RateLimit *RateLimitFile `yaml:"rateLimit,omitempty"`
	Metrics   *MetricsFile   `yaml:"metrics,omitempty"`
	Telemetry *TelemetryFile `yaml:"telemetry,omitempty"`
}

type FFmpegFile struct {
	Bin          string `yaml:"bin,omitempty"`
	FFprobeBin   string `yaml:"ffprobeBin,omitempty"`
	StartTimeout string `yaml:"startTimeout,omitempty"`
	StallTimeout string `yaml:"stallTimeout,omitempty"`
	KillGrace    string `yaml:"killGrace,omitempty"`
}

type SplitFile struct {
	DefaultSegmentSeconds *int   `yaml:"defaultSegmentSeconds,omitempty"`
	MaxSegmentSeconds     *int   `yaml:"maxSegmentSeconds,omitempty"`
	FallbackEnabled       *bool  `yaml:"fallbackEnabled,omitempty"`
	PreciseFPS            *int   `yaml:"preciseFPS,omitempty"`
	MaxUploadBytes        *int64 `yaml:"maxUploadBytes,omitempty"`
}

type CleanupFile struct {
	TTL          string `yaml:"ttl,omitempty"`
	Interval     string `yaml:"interval,omitempty"`
	MaxBytes     *int64 `yaml:"maxBytes,omitempty"`
	JobRetention string `yaml:"jobRetention,omitempty"`
}

type RateLimitFile struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	RPS     *int  `yaml:"rps,omitempty"`
	Burst   *int  `yaml:"burst,omitempty"`
}

type MetricsFile struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
}

type TelemetryFile struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	ExporterType string   `yaml:"exporter,omitempty"`
	Endpoint     string   `yaml:"endpoint,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}
