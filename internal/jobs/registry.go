// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs holds the in-memory job registry, the single source of truth
// for job state.
package jobs

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/metrics"
	"github.com/rs/zerolog"
)

// Registry maps job ids to job state. Each record has its own writer lock;
// readers load an immutable snapshot without taking it.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	now    func() time.Time
	logger zerolog.Logger
}

type entry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Job]
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create inserts a queued job.
func (r *Registry) Create(id string) (Job, error) {
	if id == "" {
		return Job{}, fmt.Errorf("%w: empty job id", ErrInvalidInput)
	}
	now := r.now()
	job := &Job{
		ID:        id,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[id]; exists {
		return Job{}, fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	e := &entry{}
	e.snap.Store(job)
	r.entries[id] = e
	return *job, nil
}

// Get returns the current snapshot of id.
func (r *Registry) Get(id string) (Job, error) {
	e := r.lookup(id)
	if e == nil {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.snap.Load().clone(), nil
}

// SetProgress records pct (clamped to [0,100]) and moves a queued job to
// running. Progress never decreases. Returns false when the job is absent
// or terminal.
func (r *Registry) SetProgress(id string, pct int) bool {
	pct = min(max(pct, 0), 100)
	return r.update(id, func(j *Job) {
		if j.Status == StatusQueued {
			j.Status = StatusRunning
		}
		if pct > j.Progress {
			j.Progress = pct
		}
	})
}

// Complete finalizes id as done with the given artifacts.
func (r *Registry) Complete(id string, artifacts []Artifact) bool {
	artifacts = slices.Clone(artifacts)
	applied := r.update(id, func(j *Job) {
		j.Status = StatusDone
		j.Progress = 100
		j.Result = artifacts
	})
	if applied {
		r.logger.Debug().Str(xglog.FieldJobID, id).Int("artifacts", len(artifacts)).Msg("job done")
	}
	return applied
}

// Fail finalizes id as failed with reason.
func (r *Registry) Fail(id, reason string) bool {
	applied := r.update(id, func(j *Job) {
		j.Status = StatusFailed
		j.Error = reason
	})
	if applied {
		r.logger.Debug().Str(xglog.FieldJobID, id).Str("reason", reason).Msg("job failed")
	}
	return applied
}

// update applies mutate to a copy of the current snapshot under the entry
// lock. Terminal and absent jobs are left untouched.
func (r *Registry) update(id string, mutate func(*Job)) bool {
	e := r.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.snap.Load()
	if cur.Status.IsTerminal() {
		return false
	}
	next := *cur
	mutate(&next)
	next.UpdatedAt = r.now()
	e.snap.Store(&next)
	return true
}

func (r *Registry) lookup(id string) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// SweepStale drops terminal records not updated within maxAge and returns
// how many were removed. Queued and running jobs are kept however quiet they
// are; their owner always finalizes them. It does not touch the filesystem.
func (r *Registry) SweepStale(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.entries {
		snap := e.snap.Load()
		if snap.Status.IsTerminal() && snap.UpdatedAt.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Counts returns the number of tracked jobs per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Status]int, 4)
	for _, e := range r.entries {
		out[e.snap.Load().Status]++
	}
	return out
}

func (r *Registry) publish() {
	counts := r.Counts()
	for _, s := range []Status{StatusQueued, StatusRunning, StatusDone, StatusFailed} {
		metrics.SetRegistryJobs(string(s), counts[s])
	}
}

// Run sweeps stale records every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval, maxAge time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info().
		Dur("interval", interval).
		Dur("max_age", maxAge).
		Msg("job registry gc started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("job registry gc stopped")
			return nil
		case <-ticker.C:
			if n := r.SweepStale(maxAge); n > 0 {
				r.logger.Info().
					Str(xglog.FieldEvent, "registry.gc").
					Int("removed", n).
					Int("remaining", r.Len()).
					Msg("evicted stale jobs")
			}
			r.publish()
		}
	}
}
