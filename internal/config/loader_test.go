// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.Version)
	assert.Equal(t, 5, cfg.Split.DefaultSegmentSeconds)
	assert.Equal(t, 600, cfg.Split.MaxSegmentSeconds)
	assert.True(t, cfg.Split.FallbackEnabled)
	assert.Equal(t, 30, cfg.Split.PreciseFPS)
	assert.Equal(t, 60*time.Minute, cfg.Cleanup.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Cleanup.Interval)
	assert.Equal(t, int64(50)<<30, cfg.Cleanup.MaxBytes)
	assert.True(t, filepath.IsAbs(cfg.TempDir))
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	path := writeConfig(t, `
tempDir: /var/tmp/segsplit
split:
  maxSegmentSeconds: 120
  fallbackEnabled: false
cleanup:
  ttl: 30m
  interval: 5m
`)
	t.Setenv("SEGSPLIT_CLEAN_INTERVAL", "2m")

	l := NewLoader(path, "v1")
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/tmp/segsplit", cfg.TempDir)
	assert.Equal(t, 120, cfg.Split.MaxSegmentSeconds)
	assert.False(t, cfg.Split.FallbackEnabled)
	assert.Equal(t, 30*time.Minute, cfg.Cleanup.TTL)
	assert.Equal(t, 2*time.Minute, cfg.Cleanup.Interval, "env must override file")
	assert.Contains(t, l.ConsumedEnvKeys, "SEGSPLIT_CLEAN_INTERVAL")
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "cleanup:\n  ttl: 30m\n  bogus: true\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict config parse error")
}

func TestLoad_RejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "logLevel: debug\n---\nlogLevel: info\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
}

func TestLoad_RejectsNonYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
}

func TestLoad_InvalidDurationInFile(t *testing.T) {
	path := writeConfig(t, "cleanup:\n  ttl: soon\n")
	_, err := NewLoader(path, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleanup.ttl")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"defaults are valid", func(*AppConfig) {}, ""},
		{"interval not below ttl", func(c *AppConfig) { c.Cleanup.Interval = c.Cleanup.TTL }, "cleanup.interval"},
		{"default seconds above max", func(c *AppConfig) { c.Split.DefaultSegmentSeconds = 700 }, "split.defaultSegmentSeconds"},
		{"zero fps", func(c *AppConfig) { c.Split.PreciseFPS = 0 }, "split.preciseFPS"},
		{"unknown exporter", func(c *AppConfig) {
			c.Telemetry.Enabled = true
			c.Telemetry.ExporterType = "zipkin"
		}, "telemetry.exporter"},
		{"bad level", func(c *AppConfig) { c.LogLevel = "loud" }, "logLevel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("SEGSPLIT_TEST_INT", "abc")
	t.Setenv("SEGSPLIT_TEST_DUR", "10 parsecs")
	t.Setenv("SEGSPLIT_TEST_BOOL", "maybe")
	t.Setenv("SEGSPLIT_TEST_I64", " 1099511627776 ")

	assert.Equal(t, 7, ParseInt("SEGSPLIT_TEST_INT", 7))
	assert.Equal(t, time.Second, ParseDuration("SEGSPLIT_TEST_DUR", time.Second))
	assert.True(t, ParseBool("SEGSPLIT_TEST_BOOL", true))
	assert.Equal(t, int64(1)<<40, ParseInt64("SEGSPLIT_TEST_I64", 0))
	assert.Equal(t, "fallback", ParseString("SEGSPLIT_TEST_UNSET", "fallback"))
}
