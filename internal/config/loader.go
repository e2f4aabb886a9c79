// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "SEGSPLIT_"

const (
	defaultListenAddr     = ":8080"
	defaultSegmentSeconds = 5
	maxSegmentSeconds     = 600
	defaultPreciseFPS     = 30
	defaultMaxUpload      = int64(4) << 30
	defaultCleanTTL       = 60 * time.Minute
	defaultCleanInterval  = 10 * time.Minute
	defaultCleanMaxBytes  = int64(50) << 30
	defaultJobRetention   = time.Hour
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) key(name string) string {
	k := envPrefix + name
	l.ConsumedEnvKeys[k] = struct{}{}
	return k
}

// Load loads configuration with precedence: ENV > File > Defaults
// It enforces Strict Validated Order: Parse File (Strict) -> Apply Env -> Validate
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.TempDir); err == nil {
		cfg.TempDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel:   "info",
		ListenAddr: defaultListenAddr,
		TempDir:    filepath.Join(os.TempDir(), "segsplit"),
		FFmpeg: FFmpegConfig{
			Bin:          "ffmpeg",
			FFprobeBin:   "ffprobe",
			StartTimeout: 30 * time.Second,
			StallTimeout: 2 * time.Minute,
			KillGrace:    2 * time.Second,
		},
		Split: SplitConfig{
			DefaultSegmentSeconds: defaultSegmentSeconds,
			MaxSegmentSeconds:     maxSegmentSeconds,
			FallbackEnabled:       true,
			PreciseFPS:            defaultPreciseFPS,
			MaxUploadBytes:        defaultMaxUpload,
		},
		Cleanup: CleanupConfig{
			TTL:          defaultCleanTTL,
			Interval:     defaultCleanInterval,
			MaxBytes:     defaultCleanMaxBytes,
			JobRetention: defaultJobRetention,
		},
		RateLimit: RateLimitConfig{Enabled: true, RPS: 20, Burst: 40},
		Metrics:   MetricsConfig{Enabled: true},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return parseFileConfig(data)
}

func parseFileConfig(data []byte) (*FileConfig, error) {
	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFileConfig(cfg *AppConfig, f *FileConfig) error {
	setStr(&cfg.LogLevel, f.LogLevel)
	setStr(&cfg.ListenAddr, f.ListenAddr)
	setStr(&cfg.TempDir, f.TempDir)
	setStr(&cfg.AdminToken, f.AdminToken)

	if f.FFmpeg != nil {
		setStr(&cfg.FFmpeg.Bin, f.FFmpeg.Bin)
		setStr(&cfg.FFmpeg.FFprobeBin, f.FFmpeg.FFprobeBin)
		if err := setDur(&cfg.FFmpeg.StartTimeout, "ffmpeg.startTimeout", f.FFmpeg.StartTimeout); err != nil {
			return err
		}
		if err := setDur(&cfg.FFmpeg.StallTimeout, "ffmpeg.stallTimeout", f.FFmpeg.StallTimeout); err != nil {
			return err
		}
		if err := setDur(&cfg.FFmpeg.KillGrace, "ffmpeg.killGrace", f.FFmpeg.KillGrace); err != nil {
			return err
		}
	}
	if s := f.Split; s != nil {
		setPtr(&cfg.Split.DefaultSegmentSeconds, s.DefaultSegmentSeconds)
		setPtr(&cfg.Split.MaxSegmentSeconds, s.MaxSegmentSeconds)
		setPtr(&cfg.Split.FallbackEnabled, s.FallbackEnabled)
		setPtr(&cfg.Split.PreciseFPS, s.PreciseFPS)
		setPtr(&cfg.Split.MaxUploadBytes, s.MaxUploadBytes)
	}
	if c := f.Cleanup; c != nil {
		if err := setDur(&cfg.Cleanup.TTL, "cleanup.ttl", c.TTL); err != nil {
			return err
		}
		if err := setDur(&cfg.Cleanup.Interval, "cleanup.interval", c.Interval); err != nil {
			return err
		}
		if err := setDur(&cfg.Cleanup.JobRetention, "cleanup.jobRetention", c.JobRetention); err != nil {
			return err
		}
		setPtr(&cfg.Cleanup.MaxBytes, c.MaxBytes)
	}
	if r := f.RateLimit; r != nil {
		setPtr(&cfg.RateLimit.Enabled, r.Enabled)
		setPtr(&cfg.RateLimit.RPS, r.RPS)
		setPtr(&cfg.RateLimit.Burst, r.Burst)
	}
	if m := f.Metrics; m != nil {
		setPtr(&cfg.Metrics.Enabled, m.Enabled)
		setStr(&cfg.Metrics.Addr, m.Addr)
	}
	if t := f.Telemetry; t != nil {
		setPtr(&cfg.Telemetry.Enabled, t.Enabled)
		setStr(&cfg.Telemetry.ExporterType, t.ExporterType)
		setStr(&cfg.Telemetry.Endpoint, t.Endpoint)
		setPtr(&cfg.Telemetry.SamplingRate, t.SamplingRate)
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = ParseString(l.key("LOG_LEVEL"), cfg.LogLevel)
	cfg.ListenAddr = ParseString(l.key("LISTEN"), cfg.ListenAddr)
	cfg.TempDir = ParseString(l.key("TEMP_DIR"), cfg.TempDir)
	cfg.AdminToken = ParseString(l.key("ADMIN_TOKEN"), cfg.AdminToken)

	cfg.FFmpeg.Bin = ParseString(l.key("FFMPEG_BIN"), cfg.FFmpeg.Bin)
	cfg.FFmpeg.FFprobeBin = ParseString(l.key("FFPROBE_BIN"), cfg.FFmpeg.FFprobeBin)
	cfg.FFmpeg.StartTimeout = ParseDuration(l.key("FFMPEG_START_TIMEOUT"), cfg.FFmpeg.StartTimeout)
	cfg.FFmpeg.StallTimeout = ParseDuration(l.key("FFMPEG_STALL_TIMEOUT"), cfg.FFmpeg.StallTimeout)
	cfg.FFmpeg.KillGrace = ParseDuration(l.key("FFMPEG_KILL_GRACE"), cfg.FFmpeg.KillGrace)

	cfg.Split.DefaultSegmentSeconds = ParseInt(l.key("DEFAULT_SEGMENT_SECONDS"), cfg.Split.DefaultSegmentSeconds)
	cfg.Split.MaxSegmentSeconds = ParseInt(l.key("MAX_SEGMENT_SECONDS"), cfg.Split.MaxSegmentSeconds)
	cfg.Split.FallbackEnabled = ParseBool(l.key("FALLBACK_ENABLED"), cfg.Split.FallbackEnabled)
	cfg.Split.PreciseFPS = ParseInt(l.key("PRECISE_FPS"), cfg.Split.PreciseFPS)
	cfg.Split.MaxUploadBytes = ParseInt64(l.key("MAX_UPLOAD_BYTES"), cfg.Split.MaxUploadBytes)

	cfg.Cleanup.TTL = ParseDuration(l.key("CLEAN_TTL"), cfg.Cleanup.TTL)
	cfg.Cleanup.Interval = ParseDuration(l.key("CLEAN_INTERVAL"), cfg.Cleanup.Interval)
	cfg.Cleanup.MaxBytes = ParseInt64(l.key("CLEAN_MAX_BYTES"), cfg.Cleanup.MaxBytes)
	cfg.Cleanup.JobRetention = ParseDuration(l.key("JOB_RETENTION"), cfg.Cleanup.JobRetention)

	cfg.RateLimit.Enabled = ParseBool(l.key("RATELIMIT_ENABLED"), cfg.RateLimit.Enabled)
	cfg.RateLimit.RPS = ParseInt(l.key("RATELIMIT_RPS"), cfg.RateLimit.RPS)
	cfg.RateLimit.Burst = ParseInt(l.key("RATELIMIT_BURST"), cfg.RateLimit.Burst)

	cfg.Metrics.Enabled = ParseBool(l.key("METRICS_ENABLED"), cfg.Metrics.Enabled)
	cfg.Metrics.Addr = ParseString(l.key("METRICS_ADDR"), cfg.Metrics.Addr)

	cfg.Telemetry.Enabled = ParseBool(l.key("OTEL_ENABLED"), cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = ParseString(l.key("OTEL_EXPORTER"), cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = ParseString(l.key("OTEL_ENDPOINT"), cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = ParseFloat(l.key("OTEL_SAMPLING_RATE"), cfg.Telemetry.SamplingRate)
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setPtr[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDur(dst *time.Duration, field, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}
