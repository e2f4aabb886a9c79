// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/ManuGH/segsplit/internal/jobs"
	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/metrics"
	"github.com/ManuGH/segsplit/internal/procgroup"
	"github.com/rs/zerolog"
)

const (
	eventBuffer     = 16
	stderrTailBytes = 8 << 10
	probeTimeout    = 15 * time.Second
	// minFractionStep throttles progress events to roughly 200 per attempt.
	minFractionStep = 0.005
)

// Config controls process supervision.
type Config struct {
	FFmpegBin    string
	StartTimeout time.Duration
	StallTimeout time.Duration
	KillGrace    time.Duration
	// Tick is the watchdog check interval. Defaults to one second.
	Tick time.Duration
}

// Supervisor runs ffmpeg attempts. It implements Runner.
type Supervisor struct {
	cfg    Config
	prober DurationProber
	logger zerolog.Logger
}

// NewSupervisor returns a Supervisor. prober may be nil, in which case
// attempts report no fractional progress.
func NewSupervisor(cfg Config, prober DurationProber, logger zerolog.Logger) *Supervisor {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	return &Supervisor{cfg: cfg, prober: prober, logger: logger}
}

type attempt struct {
	strategy  Strategy
	events    chan Event
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (a *attempt) Strategy() Strategy   { return a.strategy }
func (a *attempt) Events() <-chan Event { return a.events }

func (a *attempt) Cancel() {
	a.cancelled.Store(true)
	a.cancel()
}

// Run starts an attempt and returns immediately. Cancelling ctx has the
// same effect as Attempt.Cancel.
func (s *Supervisor) Run(ctx context.Context, spec Spec) Attempt {
	actx, cancel := context.WithCancel(ctx)
	a := &attempt{
		strategy: spec.Strategy,
		events:   make(chan Event, eventBuffer),
		cancel:   cancel,
	}
	go s.run(actx, a, spec)
	return a
}

func (s *Supervisor) run(ctx context.Context, a *attempt, spec Spec) {
	defer close(a.events)
	defer a.cancel()

	logger := s.logger.With().
		Str(xglog.FieldJobID, spec.JobID).
		Str(xglog.FieldStrategy, string(spec.Strategy)).
		Logger()

	err := s.execute(ctx, a, spec, logger)

	// A requested abort wins over whatever the process reported.
	if a.cancelled.Load() || ctx.Err() != nil {
		if err == nil || !errors.Is(err, jobs.ErrCancelled) {
			err = fmt.Errorf("%w: attempt aborted", jobs.ErrCancelled)
		}
	}

	if err != nil {
		logger.Debug().Err(err).Msg("attempt failed")
		a.events <- Event{Kind: EventFailed, Err: err}
		return
	}
	a.events <- Event{Kind: EventSucceeded, Fraction: 1, OutputDir: spec.OutputDir}
}

func (s *Supervisor) execute(ctx context.Context, a *attempt, spec Spec, logger zerolog.Logger) error {
	args, err := BuildArgs(spec)
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%w: aborted before start", jobs.ErrCancelled)
	}
	if _, err := os.Stat(spec.InputPath); err != nil {
		return fmt.Errorf("%w: input not readable: %v", jobs.ErrInvalidInput, err)
	}
	if err := os.MkdirAll(spec.OutputDir, 0o750); err != nil {
		return fmt.Errorf("%w: create output dir: %v", jobs.ErrProcessFailure, err)
	}

	total := s.probe(ctx, spec.InputPath, logger)

	// #nosec G204 -- binary comes from operator config; args are built from validated fields
	cmd := exec.Command(s.cfg.FFmpegBin, args...)
	procgroup.Set(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", jobs.ErrProcessFailure, err)
	}
	stderr := newTailBuffer(stderrTailBytes)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %v", jobs.ErrProcessFailure, err)
	}
	started := time.Now()
	logger.Info().
		Str(xglog.FieldEvent, "ffmpeg.start").
		Int(xglog.FieldPID, cmd.Process.Pid).
		Dur("source_duration", total).
		Msg("transcoder started")

	progressCh := make(chan Progress, 64)
	parsed := make(chan struct{})
	go func() {
		defer close(parsed)
		parseProgress(stdout, progressCh)
	}()

	// Wait closes stdout, so it may only run once the parser hit EOF.
	waitCh := make(chan error, 1)
	go func() {
		<-parsed
		waitCh <- cmd.Wait()
	}()

	wd := newWatchdog(s.cfg.StartTimeout, s.cfg.StallTimeout, time.Now)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	var sent float64
	for {
		select {
		case werr := <-waitCh:
			return s.classifyExit(cmd, werr, stderr, started, logger)

		case <-ctx.Done():
			killed, _ := procgroup.Terminate(cmd, waitCh, s.cfg.KillGrace)
			logger.Info().
				Str(xglog.FieldEvent, "ffmpeg.cancelled").
				Bool("killed", killed).
				Msg("transcoder terminated on abort")
			return fmt.Errorf("%w: attempt aborted", jobs.ErrCancelled)

		case p := <-progressCh:
			wd.Observe(p)
			f := p.Fraction(total)
			if f > sent && (f-sent >= minFractionStep || f == 1) {
				sent = f
				select {
				case a.events <- Event{Kind: EventProgress, Fraction: f}:
				default:
				}
			}

		case <-ticker.C:
			if werr := wd.Check(); werr != nil {
				metrics.IncProcStall(string(spec.Strategy), wd.phase())
				killed, _ := procgroup.Terminate(cmd, waitCh, s.cfg.KillGrace)
				logger.Error().
					Err(werr).
					Str(xglog.FieldEvent, "ffmpeg.stalled").
					Bool("killed", killed).
					Int64("last_out_time_us", wd.last.OutTimeUs).
					Int64("last_total_size", wd.last.TotalSize).
					Str("last_speed", wd.last.Speed).
					Msg("transcoder stalled, process group terminated")
				return fmt.Errorf("%w: %v", jobs.ErrProcessFailure, werr)
			}
		}
	}
}

func (s *Supervisor) probe(ctx context.Context, path string, logger zerolog.Logger) time.Duration {
	if s.prober == nil {
		return 0
	}
	pctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	d, err := s.prober.Duration(pctx, path)
	if err != nil {
		logger.Warn().Err(err).Str(xglog.FieldPath, path).Msg("duration probe failed, progress will be coarse")
		return 0
	}
	return d
}

func (s *Supervisor) classifyExit(cmd *exec.Cmd, err error, stderr *tailBuffer, started time.Time, logger zerolog.Logger) error {
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	if err == nil {
		logger.Info().
			Str(xglog.FieldEvent, "ffmpeg.exit").
			Int(xglog.FieldExitCode, code).
			Dur("elapsed", time.Since(started)).
			Msg("transcoder finished")
		return nil
	}
	logger.Warn().
		Err(err).
		Str(xglog.FieldEvent, "ffmpeg.exit").
		Int(xglog.FieldExitCode, code).
		Str("stderr", stderr.String()).
		Msg("transcoder exited with error")
	if line := stderr.LastLine(); line != "" {
		return fmt.Errorf("%w: ffmpeg exited with code %d: %s", jobs.ErrProcessFailure, code, line)
	}
	return fmt.Errorf("%w: ffmpeg exited with code %d", jobs.ErrProcessFailure, code)
}
