// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"fmt"
	"strconv"

	"github.com/ManuGH/segsplit/internal/jobs"
	"github.com/ManuGH/segsplit/internal/platform/paths"
)

// DefaultPreciseFPS is the output frame rate of precise attempts.
const DefaultPreciseFPS = 30

// Spec describes one attempt.
type Spec struct {
	JobID          string
	InputPath      string
	OutputDir      string
	SegmentSeconds int
	Strategy       Strategy
	// FPS is the constant output frame rate for StrategyPrecise.
	FPS int
}

func (s Spec) validate() error {
	switch {
	case s.InputPath == "":
		return fmt.Errorf("%w: missing input path", jobs.ErrInvalidInput)
	case s.OutputDir == "":
		return fmt.Errorf("%w: missing output dir", jobs.ErrInvalidInput)
	case s.SegmentSeconds <= 0:
		return fmt.Errorf("%w: segment length must be positive, got %d", jobs.ErrInvalidInput, s.SegmentSeconds)
	case s.Strategy != StrategyFast && s.Strategy != StrategyPrecise:
		return fmt.Errorf("%w: unknown strategy %q", jobs.ErrInvalidInput, s.Strategy)
	}
	return nil
}

// BuildArgs returns the ffmpeg argv (without the binary) for spec.
func BuildArgs(spec Spec) ([]string, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	seconds := strconv.Itoa(spec.SegmentSeconds)

	args := []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-loglevel", "error",
		"-progress", "pipe:1",
		"-nostats",
		"-ignore_unknown",
		"-i", spec.InputPath,
		// First video stream, first audio stream if any. Data, subtitles
		// and metadata do not survive the mp4 segment muxer reliably.
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-dn", "-sn",
		"-map_metadata", "-1",
	}

	switch spec.Strategy {
	case StrategyFast:
		args = append(args, "-c:v", "copy", "-c:a", "copy")
	case StrategyPrecise:
		args = append(args, preciseCodecArgs(spec.SegmentSeconds, spec.FPS)...)
	}

	args = append(args,
		"-f", "segment",
		"-segment_format", "mp4",
		"-segment_time", seconds,
	)
	if spec.Strategy == StrategyPrecise {
		// Forced keyframes sit exactly on the boundary; tolerate rounding.
		args = append(args, "-segment_time_delta", "0.1")
	}
	args = append(args,
		"-reset_timestamps", "1",
		"-segment_format_options", "movflags=+faststart",
		paths.SegmentPattern(spec.OutputDir),
	)
	return args, nil
}

// preciseCodecArgs re-encodes to CFR H.264 with a closed GOP of exactly
// seconds*fps frames and a keyframe forced at every segment boundary.
func preciseCodecArgs(seconds, fps int) []string {
	if fps <= 0 {
		fps = DefaultPreciseFPS
	}
	gop := seconds * fps
	return []string{
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-fps_mode", "cfr",
		"-r", strconv.Itoa(fps),
		"-g", strconv.Itoa(gop),
		"-keyint_min", strconv.Itoa(gop),
		"-sc_threshold", "0",
		"-x264-params", fmt.Sprintf("keyint=%d:min-keyint=%d:scenecut=0", gop, gop),
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", seconds),
		"-flags", "+cgop",
		"-c:a", "aac",
		"-b:a", "128k",
	}
}
