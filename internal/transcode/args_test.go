// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"testing"

	"github.com/ManuGH/segsplit/internal/jobs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs_Fast(t *testing.T) {
	args, err := BuildArgs(Spec{
		InputPath:      "/tmp/in.mp4",
		OutputDir:      "/tmp/output_1",
		SegmentSeconds: 5,
		Strategy:       StrategyFast,
	})
	require.NoError(t, err)

	want := []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-progress", "pipe:1", "-nostats", "-ignore_unknown",
		"-i", "/tmp/in.mp4",
		"-map", "0:v:0", "-map", "0:a:0?", "-dn", "-sn", "-map_metadata", "-1",
		"-c:v", "copy", "-c:a", "copy",
		"-f", "segment", "-segment_format", "mp4", "-segment_time", "5",
		"-reset_timestamps", "1", "-segment_format_options", "movflags=+faststart",
		"/tmp/output_1/segment_%03d.mp4",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("fast args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildArgs_Precise(t *testing.T) {
	args, err := BuildArgs(Spec{
		InputPath:      "/tmp/in.mov",
		OutputDir:      "/tmp/output_2",
		SegmentSeconds: 4,
		Strategy:       StrategyPrecise,
		FPS:            25,
	})
	require.NoError(t, err)

	want := []string{
		"-hide_banner", "-nostdin", "-y", "-loglevel", "error",
		"-progress", "pipe:1", "-nostats", "-ignore_unknown",
		"-i", "/tmp/in.mov",
		"-map", "0:v:0", "-map", "0:a:0?", "-dn", "-sn", "-map_metadata", "-1",
		"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
		"-fps_mode", "cfr", "-r", "25",
		"-g", "100", "-keyint_min", "100", "-sc_threshold", "0",
		"-x264-params", "keyint=100:min-keyint=100:scenecut=0",
		"-force_key_frames", "expr:gte(t,n_forced*4)",
		"-flags", "+cgop",
		"-c:a", "aac", "-b:a", "128k",
		"-f", "segment", "-segment_format", "mp4", "-segment_time", "4",
		"-segment_time_delta", "0.1",
		"-reset_timestamps", "1", "-segment_format_options", "movflags=+faststart",
		"/tmp/output_2/segment_%03d.mp4",
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("precise args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildArgs_PreciseDefaultFPS(t *testing.T) {
	args, err := BuildArgs(Spec{InputPath: "in", OutputDir: "out", SegmentSeconds: 2, Strategy: StrategyPrecise})
	require.NoError(t, err)
	assert.Contains(t, args, "keyint=60:min-keyint=60:scenecut=0")
}

func TestBuildArgs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
	}{
		{"no input", Spec{OutputDir: "o", SegmentSeconds: 1, Strategy: StrategyFast}},
		{"no output", Spec{InputPath: "i", SegmentSeconds: 1, Strategy: StrategyFast}},
		{"zero seconds", Spec{InputPath: "i", OutputDir: "o", Strategy: StrategyFast}},
		{"negative seconds", Spec{InputPath: "i", OutputDir: "o", SegmentSeconds: -3, Strategy: StrategyFast}},
		{"unknown strategy", Spec{InputPath: "i", OutputDir: "o", SegmentSeconds: 1, Strategy: "turbo"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildArgs(tt.spec)
			require.ErrorIs(t, err, jobs.ErrInvalidInput)
		})
	}
}

func TestParsePreference(t *testing.T) {
	tests := map[string]Preference{
		"":                   PreferFastWithFallback,
		"fast-with-fallback": PreferFastWithFallback,
		"FAST":               PreferFast,
		"copy":               PreferFast,
		"precise":            PreferPrecise,
		"reencode":           PreferPrecise,
	}
	for in, want := range tests {
		got, err := ParsePreference(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePreference("lossless")
	require.ErrorIs(t, err, jobs.ErrInvalidInput)
}

func TestPreferencePlan(t *testing.T) {
	assert.Equal(t, []Strategy{StrategyFast, StrategyPrecise}, PreferFastWithFallback.Plan(true))
	assert.Equal(t, []Strategy{StrategyFast}, PreferFastWithFallback.Plan(false))
	assert.Equal(t, []Strategy{StrategyFast}, PreferFast.Plan(true))
	assert.Equal(t, []Strategy{StrategyPrecise}, PreferPrecise.Plan(false))
}
