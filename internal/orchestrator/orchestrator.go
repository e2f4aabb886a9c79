// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator drives a job through its transcoder attempts. A job
// runs the fast strategy first and, when allowed, falls back to the precise
// strategy exactly once. The registry's no-op-if-terminal rule is the only
// finalization guard.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/ManuGH/segsplit/internal/fsutil"
	"github.com/ManuGH/segsplit/internal/janitor"
	"github.com/ManuGH/segsplit/internal/jobs"
	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/metrics"
	"github.com/ManuGH/segsplit/internal/platform/paths"
	"github.com/ManuGH/segsplit/internal/telemetry"
	"github.com/ManuGH/segsplit/internal/transcode"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Visible progress range reserved for attempts. The remainder is reached
// only on finalize, so a fallback never moves the bar backwards. When a
// fallback is planned the first attempt stops at progressSplit and the
// fallback owns the rest.
const (
	progressStart = 5
	progressSplit = 50
	progressEnd   = 95
)

// band is the visible progress range one attempt is scaled onto.
type band struct {
	from, to int
}

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("orchestrator is shut down")

// Storage is the part of the janitor used for cleanup.
type Storage interface {
	Remove(reason string, paths ...string) int64
	Schedule(jobID, dir string)
}

// Config holds the split policy.
type Config struct {
	FallbackEnabled       bool
	DefaultSegmentSeconds int
	MaxSegmentSeconds     int
	PreciseFPS            int
}

// Request is a job handed over by the upload boundary.
type Request struct {
	JobID     string
	InputPath string
	// SegmentSeconds of zero selects the configured default. Values above
	// the maximum are clamped.
	SegmentSeconds int
	Preference     transcode.Preference
}

// Orchestrator owns the goroutine of every running job.
type Orchestrator struct {
	cfg      Config
	registry *jobs.Registry
	runner   transcode.Runner
	storage  Storage
	layout   paths.Layout
	logger   zerolog.Logger
	tracer   trace.Tracer

	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	mu     sync.Mutex
	active map[string]context.CancelFunc
	closed bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// New returns an Orchestrator. Jobs write below layout.Root.
func New(cfg Config, registry *jobs.Registry, runner transcode.Runner, storage Storage, layout paths.Layout, opts ...Option) *Orchestrator {
	if cfg.DefaultSegmentSeconds <= 0 {
		cfg.DefaultSegmentSeconds = 5
	}
	if cfg.MaxSegmentSeconds <= 0 {
		cfg.MaxSegmentSeconds = 600
	}
	if cfg.PreciseFPS <= 0 {
		cfg.PreciseFPS = transcode.DefaultPreciseFPS
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		runner:     runner,
		storage:    storage,
		layout:     layout,
		logger:     zerolog.Nop(),
		tracer:     telemetry.Tracer("segsplit/orchestrator"),
		baseCtx:    ctx,
		cancelBase: cancel,
		active:     make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit validates req, registers the job as queued and starts it in the
// background. ctx only links the job trace to the caller; the job outlives
// it. On error the caller still owns the input file.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (jobs.Job, error) {
	if err := o.normalize(&req); err != nil {
		metrics.IncJobRejected("invalid_input")
		return jobs.Job{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		metrics.IncJobRejected("shutdown")
		return jobs.Job{}, ErrClosed
	}
	job, err := o.registry.Create(req.JobID)
	if err != nil {
		metrics.IncJobRejected("duplicate")
		return jobs.Job{}, err
	}

	jctx, cancel := context.WithCancel(o.baseCtx)
	o.active[req.JobID] = cancel
	o.wg.Add(1)
	go o.run(jctx, trace.LinkFromContext(ctx), req)

	o.logger.Info().
		Str(xglog.FieldEvent, "job.submitted").
		Str(xglog.FieldJobID, req.JobID).
		Int("segment_seconds", req.SegmentSeconds).
		Str("preference", string(req.Preference)).
		Msg("job accepted")
	return job, nil
}

func (o *Orchestrator) normalize(req *Request) error {
	if !paths.ValidJobID(req.JobID) {
		return fmt.Errorf("%w: invalid job id %q", jobs.ErrInvalidInput, req.JobID)
	}
	switch {
	case req.SegmentSeconds == 0:
		req.SegmentSeconds = o.cfg.DefaultSegmentSeconds
	case req.SegmentSeconds < 0:
		return fmt.Errorf("%w: segment length must be positive", jobs.ErrInvalidInput)
	case req.SegmentSeconds > o.cfg.MaxSegmentSeconds:
		req.SegmentSeconds = o.cfg.MaxSegmentSeconds
	}
	if req.Preference == "" {
		req.Preference = transcode.PreferFastWithFallback
	}
	if _, err := transcode.ParsePreference(string(req.Preference)); err != nil {
		return err
	}
	if err := fsutil.IsRegularFile(req.InputPath); err != nil {
		return fmt.Errorf("%w: input not usable: %v", jobs.ErrInvalidInput, err)
	}
	return nil
}

// Cancel aborts a running job. The job finalizes failed with a cancelled
// reason and leaves no files behind. Cancelling a finished job is a no-op.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	cancel, ok := o.active[id]
	o.mu.Unlock()
	if ok {
		cancel()
		return nil
	}
	if _, err := o.registry.Get(id); err != nil {
		return err
	}
	return nil
}

// Active reports whether id still has a running goroutine. The janitor uses
// it to keep its hands off live job data.
func (o *Orchestrator) Active(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[id]
	return ok
}

// Shutdown rejects new jobs, cancels the running ones and waits for them to
// finalize or for ctx to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	running := len(o.active)
	o.mu.Unlock()
	o.cancelBase()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if running > 0 {
			o.logger.Info().Int("cancelled", running).Msg("orchestrator stopped")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cancel, ok := o.active[id]; ok {
		cancel()
		delete(o.active, id)
	}
}

func (o *Orchestrator) run(ctx context.Context, link trace.Link, req Request) {
	defer o.wg.Done()
	defer o.release(req.JobID)

	metrics.IncJobsActive()
	defer metrics.DecJobsActive()

	ctx, span := o.tracer.Start(ctx, "segsplit.job",
		trace.WithLinks(link),
		trace.WithAttributes(telemetry.JobAttributes(req.JobID, string(req.Preference), req.SegmentSeconds)...),
	)
	defer span.End()

	logger := o.logger.With().Str(xglog.FieldJobID, req.JobID).Logger()
	ctx = xglog.ContextWithJobID(ctx, req.JobID)

	plan := req.Preference.Plan(o.cfg.FallbackEnabled)
	outDir := o.layout.OutputDir(req.JobID)
	b := band{from: progressStart, to: progressEnd}
	if len(plan) > 1 {
		b.to = progressSplit
	}

	var lastErr error
	for i, strategy := range plan {
		if i > 0 {
			trigger := "failed"
			if errors.Is(lastErr, errNoArtifacts) {
				trigger = "empty"
			}
			metrics.IncFallback(trigger)
			span.SetAttributes(attribute.String(telemetry.JobFallbackKey, trigger))
			logger.Info().
				Err(lastErr).
				Str(xglog.FieldEvent, "job.fallback").
				Str(xglog.FieldStrategy, string(strategy)).
				Msg("falling back to precise strategy")

			// Partial output of the first attempt must not leak into the result.
			o.storage.Remove(janitor.ReasonFallback, outDir)
			b = band{from: progressStart, to: progressEnd}
			if job, err := o.registry.Get(req.JobID); err == nil {
				b.from = min(max(job.Progress, progressStart), progressSplit)
			}
		}

		artifacts, err := o.attempt(ctx, logger, req, strategy, i, b)
		if err == nil {
			o.finalizeDone(logger, span, req, artifacts)
			return
		}
		lastErr = err
		if !jobs.Retryable(err) {
			break
		}
	}
	o.finalizeFailed(logger, span, req, lastErr)
}

var errNoArtifacts = fmt.Errorf("%w: no segments produced", jobs.ErrProcessFailure)

// attempt runs one strategy to its terminal event and returns the artifacts
// it produced. A success without artifacts is a process failure.
func (o *Orchestrator) attempt(ctx context.Context, logger zerolog.Logger, req Request, strategy transcode.Strategy, index int, b band) (artifacts []jobs.Artifact, err error) {
	ctx, span := o.tracer.Start(ctx, "segsplit.attempt",
		trace.WithAttributes(telemetry.AttemptAttributes(string(strategy), index)...),
	)
	started := time.Now()
	defer func() {
		outcome := attemptOutcome(err)
		metrics.ObserveAttempt(string(strategy), outcome, time.Since(started))
		span.SetAttributes(attribute.String(telemetry.AttemptOutcomeKey, outcome))
		telemetry.RecordError(span, err)
		span.End()
	}()

	spec := transcode.Spec{
		JobID:          req.JobID,
		InputPath:      req.InputPath,
		OutputDir:      o.layout.OutputDir(req.JobID),
		SegmentSeconds: req.SegmentSeconds,
		Strategy:       strategy,
		FPS:            o.cfg.PreciseFPS,
	}
	o.registry.SetProgress(req.JobID, b.from)

	terminal, ok := o.drain(ctx, o.runner.Run(ctx, spec), req.JobID, b)
	switch {
	case ctx.Err() != nil:
		// Cancellation wins over whatever the attempt reported.
		return nil, fmt.Errorf("%w: job aborted", jobs.ErrCancelled)
	case !ok:
		return nil, fmt.Errorf("%w: attempt ended without a result", jobs.ErrProcessFailure)
	case terminal.Kind == transcode.EventFailed:
		if terminal.Err == nil {
			return nil, fmt.Errorf("%w: attempt failed", jobs.ErrProcessFailure)
		}
		return nil, terminal.Err
	}

	names, lerr := paths.ListSegments(spec.OutputDir)
	if lerr != nil && !errors.Is(lerr, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: list segments: %v", jobs.ErrProcessFailure, lerr)
	}
	if len(names) == 0 {
		return nil, errNoArtifacts
	}
	artifacts = make([]jobs.Artifact, len(names))
	for i, name := range names {
		artifacts[i] = jobs.Artifact{Name: name, URL: paths.ArtifactURL(req.JobID, name)}
	}
	logger.Debug().
		Str(xglog.FieldStrategy, string(strategy)).
		Int("artifacts", len(artifacts)).
		Dur("duration", time.Since(started)).
		Msg("attempt succeeded")
	return artifacts, nil
}

// drain consumes a's events until the channel closes. The first terminal
// event wins; anything after it is ignored. A done ctx cancels the attempt
// once, and draining continues until the runner closes the stream.
func (o *Orchestrator) drain(ctx context.Context, a transcode.Attempt, id string, b band) (transcode.Event, bool) {
	var (
		terminal transcode.Event
		seen     bool
	)
	events := a.Events()
	done := ctx.Done()
	for {
		select {
		case <-done:
			a.Cancel()
			done = nil
		case ev, open := <-events:
			if !open {
				return terminal, seen
			}
			if seen {
				continue
			}
			if ev.Terminal() {
				terminal, seen = ev, true
				continue
			}
			o.registry.SetProgress(id, b.scale(ev.Fraction))
		}
	}
}

// scale maps an attempt fraction onto [b.from, b.to].
func (b band) scale(fraction float64) int {
	if math.IsNaN(fraction) || fraction < 0 {
		fraction = 0
	}
	fraction = min(fraction, 1)
	return b.from + int(math.Floor(fraction*float64(b.to-b.from)))
}

func attemptOutcome(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case errors.Is(err, errNoArtifacts):
		return "empty"
	case errors.Is(err, jobs.ErrCancelled):
		return "cancelled"
	default:
		return "failed"
	}
}

func (o *Orchestrator) finalizeDone(logger zerolog.Logger, span trace.Span, req Request, artifacts []jobs.Artifact) {
	outDir := o.layout.OutputDir(req.JobID)
	if !o.registry.Complete(req.JobID, artifacts) {
		// The record vanished; nobody can fetch the output anymore.
		logger.Warn().Msg("job record gone before finalize, discarding output")
		o.storage.Remove(janitor.ReasonFailedJob, req.InputPath, outDir)
		metrics.IncJob("failed")
		return
	}
	o.storage.Remove(janitor.ReasonInput, req.InputPath)
	o.storage.Schedule(req.JobID, outDir)

	metrics.IncJob("done")
	metrics.AddArtifacts(len(artifacts))
	span.SetAttributes(
		attribute.String(telemetry.JobStatusKey, string(jobs.StatusDone)),
		attribute.Int(telemetry.JobArtifactsKey, len(artifacts)),
	)
	logger.Info().
		Str(xglog.FieldEvent, "job.done").
		Int("artifacts", len(artifacts)).
		Msg("job completed")
}

func (o *Orchestrator) finalizeFailed(logger zerolog.Logger, span trace.Span, req Request, err error) {
	if err == nil {
		err = fmt.Errorf("%w: no strategy ran", jobs.ErrProcessFailure)
	}
	// Failed jobs leave no residue.
	o.storage.Remove(janitor.ReasonFailedJob, req.InputPath, o.layout.OutputDir(req.JobID))
	o.registry.Fail(req.JobID, err.Error())

	outcome := "failed"
	if errors.Is(err, jobs.ErrCancelled) {
		outcome = "cancelled"
	}
	metrics.IncJob(outcome)
	span.SetAttributes(attribute.String(telemetry.JobStatusKey, string(jobs.StatusFailed)))
	telemetry.RecordError(span, err)

	evt := logger.Warn()
	if outcome == "cancelled" {
		evt = logger.Info()
	}
	evt.Err(err).Str(xglog.FieldEvent, "job.failed").Msg("job failed")
}
