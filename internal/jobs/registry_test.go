// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry() (*Registry, *fakeClock) {
	clk := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewRegistry(WithClock(clk.Now)), clk
}

func TestRegistry_GetBeforeCreate(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r, _ := newTestRegistry()
	job, err := r.Create("J1")
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)

	_, err = r.Create("J1")
	require.ErrorIs(t, err, ErrAlreadyExists)

	_, err = r.Create("")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegistry_CompleteScenario(t *testing.T) {
	r, clk := newTestRegistry()
	_, err := r.Create("J1")
	require.NoError(t, err)

	clk.Advance(time.Second)
	require.True(t, r.SetProgress("J1", 10))
	job, _ := r.Get("J1")
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, 10, job.Progress)
	assert.True(t, job.UpdatedAt.After(job.CreatedAt))

	require.True(t, r.SetProgress("J1", 50))
	artifacts := []Artifact{
		{Name: "segment_000.mp4", URL: "/api/jobs/J1/segments/segment_000.mp4"},
		{Name: "segment_001.mp4", URL: "/api/jobs/J1/segments/segment_001.mp4"},
	}
	require.True(t, r.Complete("J1", artifacts))

	job, err = r.Get("J1")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, artifacts, job.Result)
	assert.Empty(t, job.Error)
}

func TestRegistry_TerminalIsImmutable(t *testing.T) {
	r, clk := newTestRegistry()
	_, _ = r.Create("J2")
	require.True(t, r.Fail("J2", "ProcessFailure"))
	before, _ := r.Get("J2")

	clk.Advance(time.Minute)
	assert.False(t, r.SetProgress("J2", 80))
	assert.False(t, r.Complete("J2", []Artifact{{Name: "segment_000.mp4"}}))
	assert.False(t, r.Fail("J2", "other"))

	after, _ := r.Get("J2")
	assert.Equal(t, before, after)
	assert.Equal(t, StatusFailed, after.Status)
	assert.Equal(t, "ProcessFailure", after.Error)
}

func TestRegistry_DoneIsImmutable(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Create("J3")
	require.True(t, r.Complete("J3", nil))
	assert.False(t, r.Fail("J3", "late failure"))
	job, _ := r.Get("J3")
	assert.Equal(t, StatusDone, job.Status)
}

func TestRegistry_ProgressClampedAndMonotonic(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Create("J1")

	r.SetProgress("J1", -5)
	job, _ := r.Get("J1")
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, 0, job.Progress)

	r.SetProgress("J1", 60)
	r.SetProgress("J1", 40)
	job, _ = r.Get("J1")
	assert.Equal(t, 60, job.Progress)

	r.SetProgress("J1", 250)
	job, _ = r.Get("J1")
	assert.Equal(t, 100, job.Progress)
}

func TestRegistry_AbsentIsNoop(t *testing.T) {
	r, _ := newTestRegistry()
	assert.False(t, r.SetProgress("ghost", 10))
	assert.False(t, r.Complete("ghost", nil))
	assert.False(t, r.Fail("ghost", "x"))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SnapshotIsolation(t *testing.T) {
	r, _ := newTestRegistry()
	_, _ = r.Create("J1")
	in := []Artifact{{Name: "segment_000.mp4"}}
	r.Complete("J1", in)
	in[0].Name = "mutated"

	job, _ := r.Get("J1")
	job.Result[0].Name = "mutated-again"

	again, _ := r.Get("J1")
	assert.Equal(t, "segment_000.mp4", again.Result[0].Name)
}

func TestRegistry_SweepStale(t *testing.T) {
	r, clk := newTestRegistry()
	_, _ = r.Create("old")
	r.Fail("old", "boom")
	clk.Advance(30 * time.Minute)
	_, _ = r.Create("fresh")
	r.Complete("fresh", nil)
	clk.Advance(31 * time.Minute)

	removed := r.SweepStale(time.Hour)
	assert.Equal(t, 1, removed)

	_, err := r.Get("old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get("fresh")
	require.NoError(t, err)

	// Evicted ids may be created again.
	_, err = r.Create("old")
	require.NoError(t, err)
}

func TestRegistry_SweepStaleKeepsUnfinishedJobs(t *testing.T) {
	r, clk := newTestRegistry()
	_, _ = r.Create("waiting")
	_, _ = r.Create("encoding")
	require.True(t, r.SetProgress("encoding", 5))
	clk.Advance(3 * time.Hour)

	assert.Equal(t, 0, r.SweepStale(time.Hour))

	// A long silent run still finalizes and stays readable.
	require.True(t, r.Complete("encoding", []Artifact{{Name: "segment_000.mp4"}}))
	job, err := r.Get("encoding")
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
	_, err = r.Get("waiting")
	require.NoError(t, err)
}

func TestRegistry_ConcurrentFinalizeAppliesOnce(t *testing.T) {
	r, _ := newTestRegistry()
	const n = 32
	for i := 0; i < n; i++ {
		_, err := r.Create(fmt.Sprintf("job-%d", i))
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := make(map[string]int)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for p := 0; p <= 100; p += 10 {
					r.SetProgress(id, p)
					_, _ = r.Get(id)
				}
				var ok bool
				if w%2 == 0 {
					ok = r.Complete(id, []Artifact{{Name: "segment_000.mp4"}})
				} else {
					ok = r.Fail(id, "boom")
				}
				if ok {
					mu.Lock()
					applied[id]++
					mu.Unlock()
				}
			}(w)
		}
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := fmt.Sprintf("job-%d", i)
		assert.Equal(t, 1, applied[id], "exactly one finalize must win for %s", id)
		job, err := r.Get(id)
		require.NoError(t, err)
		assert.True(t, job.Status.IsTerminal())
	}
	counts := r.Counts()
	assert.Equal(t, n, counts[StatusDone]+counts[StatusFailed])
}

func TestRegistry_RunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 5*time.Millisecond, time.Hour) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("exit 1: %w", ErrProcessFailure)))
	assert.False(t, Retryable(ErrCancelled))
	assert.False(t, Retryable(fmt.Errorf("%w: %w", ErrProcessFailure, ErrCancelled)))
	assert.False(t, Retryable(ErrInvalidInput))
}
