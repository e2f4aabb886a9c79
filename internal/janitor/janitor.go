// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package janitor reclaims job data under the temp root. It combines a
// deferred per-job deletion after a TTL with a periodic sweep bounded by the
// same TTL and a total byte budget. All deletion is best effort: I/O errors
// are logged and counted, never returned.
package janitor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/segsplit/internal/jobs"
	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Deletion reasons, also used as metric labels.
const (
	ReasonTTL       = "ttl"
	ReasonQuota     = "quota"
	ReasonDeferred  = "deferred"
	ReasonFailedJob = "failed_job"
	ReasonInput     = "input"
	ReasonFallback  = "fallback"
)

// Config controls retention.
type Config struct {
	Root     string
	TTL      time.Duration
	Interval time.Duration
	// MaxBytes is the budget for everything under Root. Zero disables the
	// quota pass.
	MaxBytes int64
}

// Janitor owns every destructive filesystem operation under Root.
type Janitor struct {
	cfg    Config
	clock  Clock
	logger zerolog.Logger
	inUse  func(jobID string) bool

	sweeps singleflight.Group
	// life bounds shared sweeps; no single caller owns them.
	life context.Context
	halt context.CancelFunc

	mu      sync.Mutex
	pending map[string]*pendingDeletion
	stopped bool
}

type pendingDeletion struct {
	dir   string
	timer Timer
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithClock overrides the time source used for ages and timers.
func WithClock(c Clock) Option {
	return func(j *Janitor) { j.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// WithInUse reports jobs whose data must not be touched, such as jobs that
// are still transcoding.
func WithInUse(f func(jobID string) bool) Option {
	return func(j *Janitor) { j.inUse = f }
}

// New returns a Janitor for cfg.
func New(cfg Config, opts ...Option) *Janitor {
	j := &Janitor{
		cfg:     cfg,
		clock:   RealClock{},
		logger:  zerolog.Nop(),
		inUse:   func(string) bool { return false },
		pending: make(map[string]*pendingDeletion),
	}
	j.life, j.halt = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Schedule deletes dir once the TTL has elapsed. Scheduling the same job
// again replaces the earlier timer.
func (j *Janitor) Schedule(jobID, dir string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.stopped {
		return
	}
	if prev, ok := j.pending[jobID]; ok {
		prev.timer.Stop()
	}
	p := &pendingDeletion{dir: dir}
	p.timer = j.clock.AfterFunc(j.cfg.TTL, func() { j.fire(jobID, p) })
	j.pending[jobID] = p
	metrics.SetJanitorPending(len(j.pending))

	j.logger.Debug().
		Str(xglog.FieldJobID, jobID).
		Str(xglog.FieldPath, dir).
		Dur("ttl", j.cfg.TTL).
		Msg("deferred deletion scheduled")
}

func (j *Janitor) fire(jobID string, p *pendingDeletion) {
	j.mu.Lock()
	if cur, ok := j.pending[jobID]; ok && cur == p {
		delete(j.pending, jobID)
	}
	metrics.SetJanitorPending(len(j.pending))
	j.mu.Unlock()

	j.Remove(ReasonDeferred, p.dir)
}

func (j *Janitor) forget(jobID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p, ok := j.pending[jobID]; ok {
		p.timer.Stop()
		delete(j.pending, jobID)
		metrics.SetJanitorPending(len(j.pending))
	}
}

// Pending returns the number of scheduled deferred deletions.
func (j *Janitor) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Stop cancels all pending deferred deletions and aborts a sweep in flight.
// Directories they covered are left to the next start.
func (j *Janitor) Stop() {
	j.halt()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stopped = true
	for id, p := range j.pending {
		p.timer.Stop()
		delete(j.pending, id)
	}
	metrics.SetJanitorPending(0)
}

// Remove deletes each path and returns the bytes freed. A path that is
// already gone counts as success.
func (j *Janitor) Remove(reason string, paths ...string) int64 {
	var freed int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		n, ok := j.remove(p, reason)
		if ok {
			freed += n
		}
	}
	return freed
}

func (j *Janitor) remove(path, reason string) (int64, bool) {
	size, err := pathSize(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, true
	}
	if err := os.RemoveAll(path); err != nil {
		metrics.IncStorageFailure("remove")
		j.logger.Warn().
			Err(errors.Join(jobs.ErrStorageFailure, err)).
			Str(xglog.FieldPath, path).
			Str("reason", reason).
			Msg("cleanup failed")
		return 0, false
	}
	metrics.IncJanitorDeletion(reason)
	metrics.AddJanitorBytesFreed(size)
	j.logger.Info().
		Str(xglog.FieldEvent, "janitor.delete").
		Str(xglog.FieldPath, path).
		Str("reason", reason).
		Int64(xglog.FieldBytesFreed, size).
		Msg("removed job data")
	return size, true
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if j.cfg.Interval <= 0 {
		<-ctx.Done()
		return nil
	}
	j.logger.Info().
		Dur("interval", j.cfg.Interval).
		Dur("ttl", j.cfg.TTL).
		Int64("max_bytes", j.cfg.MaxBytes).
		Msg("storage janitor started")

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := j.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn().Err(err).Msg("sweep aborted")
		}
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("storage janitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func pathSize(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			// Entries may vanish while the transcoder or a concurrent delete runs.
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total, err
}
