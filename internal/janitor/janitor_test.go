// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package janitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// createJobDir creates output_<createdMillis>_<suffix> holding one segment of
// size bytes.
func createJobDir(t *testing.T, root string, created time.Time, suffix string, size int) string {
	t.Helper()
	dir := filepath.Join(root, fmt.Sprintf("output_%d_%s", created.UnixMilli(), suffix))
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_000.mp4"), make([]byte, size), 0o600))
	return dir
}

func jobID(created time.Time, suffix string) string {
	return fmt.Sprintf("%d_%s", created.UnixMilli(), suffix)
}

func exists(t *testing.T, path string) bool {
	t.Helper()
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestSweep_TTLUsesNameMarker(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	old := createJobDir(t, root, epoch.Add(-61*time.Second), "aaaaaa", 10)
	fresh := createJobDir(t, root, epoch.Add(-10*time.Second), "bbbbbb", 10)

	j := New(Config{Root: root, TTL: 60 * time.Second}, WithClock(clock))
	rep, err := j.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.DeletedCount)
	assert.Equal(t, int64(10), rep.BytesFreed)
	assert.Equal(t, int64(10), rep.BytesRemaining)
	assert.Equal(t, []string{filepath.Base(old)}, rep.Deleted)
	assert.False(t, exists(t, old))
	assert.True(t, exists(t, fresh))
}

func TestSweep_TTLFallsBackToModTime(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)

	legacy := filepath.Join(root, "output_legacy")
	require.NoError(t, os.MkdirAll(legacy, 0o750))
	require.NoError(t, os.Chtimes(legacy, epoch.Add(-2*time.Hour), epoch.Add(-2*time.Hour)))

	recent := filepath.Join(root, "output_recent")
	require.NoError(t, os.MkdirAll(recent, 0o750))
	require.NoError(t, os.Chtimes(recent, epoch.Add(-time.Minute), epoch.Add(-time.Minute)))

	j := New(Config{Root: root, TTL: time.Hour}, WithClock(clock))
	rep, err := j.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.DeletedCount)
	assert.False(t, exists(t, legacy))
	assert.True(t, exists(t, recent))
}

func TestSweep_QuotaOldestFirst(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	a := createJobDir(t, root, epoch.Add(-3*time.Minute), "aaaaaa", 100)
	b := createJobDir(t, root, epoch.Add(-2*time.Minute), "bbbbbb", 100)
	c := createJobDir(t, root, epoch.Add(-1*time.Minute), "cccccc", 100)

	j := New(Config{Root: root, TTL: time.Hour, MaxBytes: 150}, WithClock(clock))
	rep, err := j.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Base(a), filepath.Base(b)}, rep.Deleted)
	assert.Equal(t, int64(200), rep.BytesFreed)
	assert.Equal(t, int64(100), rep.BytesRemaining)
	assert.LessOrEqual(t, rep.BytesRemaining, int64(150))
	assert.True(t, exists(t, c))
}

func TestSweep_QuotaNotExceededDeletesNothing(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	createJobDir(t, root, epoch.Add(-3*time.Minute), "aaaaaa", 100)
	createJobDir(t, root, epoch.Add(-2*time.Minute), "bbbbbb", 100)

	j := New(Config{Root: root, TTL: time.Hour, MaxBytes: 200}, WithClock(clock))
	rep, err := j.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.DeletedCount)
	assert.Equal(t, int64(200), rep.BytesRemaining)
}

func TestSweep_SkipsActiveJobs(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	created := epoch.Add(-2 * time.Hour)
	active := createJobDir(t, root, created, "aaaaaa", 100)
	activeInput := filepath.Join(root, "input_"+jobID(created, "aaaaaa")+"_clip.mp4")
	require.NoError(t, os.WriteFile(activeInput, make([]byte, 50), 0o600))

	inUse := func(id string) bool { return id == jobID(created, "aaaaaa") }
	j := New(Config{Root: root, TTL: time.Hour, MaxBytes: 1}, WithClock(clock), WithInUse(inUse))
	rep, err := j.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, rep.DeletedCount)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, int64(150), rep.BytesRemaining)
	assert.True(t, exists(t, active))
	assert.True(t, exists(t, activeInput))
}

func TestSweep_RemovesOrphanInputs(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	orphan := filepath.Join(root, "input_"+jobID(epoch.Add(-2*time.Hour), "dddddd")+"_a.mp4")
	young := filepath.Join(root, "input_"+jobID(epoch.Add(-time.Minute), "eeeeee")+"_b.mp4")
	unrelated := filepath.Join(root, "notes.txt")
	for _, p := range []string{orphan, young, unrelated} {
		require.NoError(t, os.WriteFile(p, []byte("data"), 0o600))
	}
	require.NoError(t, os.Chtimes(unrelated, epoch.Add(-48*time.Hour), epoch.Add(-48*time.Hour)))

	j := New(Config{Root: root, TTL: time.Hour}, WithClock(clock))
	rep, err := j.SweepOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.DeletedCount)
	assert.False(t, exists(t, orphan))
	assert.True(t, exists(t, young))
	assert.True(t, exists(t, unrelated), "files outside the layout are never deleted")
}

func TestSweep_MissingRoot(t *testing.T) {
	j := New(Config{Root: filepath.Join(t.TempDir(), "absent"), TTL: time.Hour})
	_, err := j.SweepOnce(context.Background())
	require.NoError(t, err)
}

func TestSchedule_DeletesAfterTTL(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	dir := createJobDir(t, root, epoch, "aaaaaa", 10)

	j := New(Config{Root: root, TTL: time.Minute}, WithClock(clock))
	j.Schedule(jobID(epoch, "aaaaaa"), dir)
	assert.Equal(t, 1, j.Pending())

	clock.Advance(59 * time.Second)
	assert.True(t, exists(t, dir), "must not be removed before the TTL")

	clock.Advance(time.Second)
	assert.False(t, exists(t, dir))
	assert.Zero(t, j.Pending())
}

func TestSchedule_RescheduleReplacesTimer(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	dir := createJobDir(t, root, epoch, "aaaaaa", 10)
	id := jobID(epoch, "aaaaaa")

	j := New(Config{Root: root, TTL: time.Minute}, WithClock(clock))
	j.Schedule(id, dir)
	clock.Advance(30 * time.Second)
	j.Schedule(id, dir)
	assert.Equal(t, 1, j.Pending())

	clock.Advance(45 * time.Second)
	assert.True(t, exists(t, dir))
	clock.Advance(15 * time.Second)
	assert.False(t, exists(t, dir))
}

func TestSchedule_RaceWithSweepIsIdempotent(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	dir := createJobDir(t, root, epoch, "aaaaaa", 10)

	j := New(Config{Root: root, TTL: time.Minute}, WithClock(clock))
	j.Schedule(jobID(epoch, "aaaaaa"), dir)

	// Age the clock without firing, then let the sweep win the race.
	clock.mu.Lock()
	clock.now = clock.now.Add(2 * time.Minute)
	clock.mu.Unlock()
	rep, err := j.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.DeletedCount)
	assert.Zero(t, j.Pending(), "sweep must drop the pending timer")

	assert.NotPanics(t, func() { clock.Advance(time.Minute) })
	assert.Zero(t, j.Remove(ReasonDeferred, dir), "removing a missing path is a no-op")
}

func TestStop_CancelsPendingDeletions(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	dir := createJobDir(t, root, epoch, "aaaaaa", 10)

	j := New(Config{Root: root, TTL: time.Minute}, WithClock(clock))
	j.Schedule(jobID(epoch, "aaaaaa"), dir)
	j.Stop()
	clock.Advance(time.Hour)
	assert.True(t, exists(t, dir))

	j.Schedule("late", dir)
	assert.Zero(t, j.Pending(), "no scheduling after Stop")
}

func TestRemove_ReportsFreedBytes(t *testing.T) {
	root := t.TempDir()
	dir := createJobDir(t, root, epoch, "aaaaaa", 64)
	file := filepath.Join(root, "input_x")
	require.NoError(t, os.WriteFile(file, make([]byte, 16), 0o600))

	j := New(Config{Root: root, TTL: time.Minute})
	assert.Equal(t, int64(80), j.Remove(ReasonFailedJob, dir, file, ""))
	assert.False(t, exists(t, dir))
	assert.False(t, exists(t, file))
}

func TestSweepOnce_Concurrent(t *testing.T) {
	root := t.TempDir()
	clock := NewMockClock(epoch)
	for i := 0; i < 20; i++ {
		createJobDir(t, root, epoch.Add(-2*time.Hour), fmt.Sprintf("%06d", i), 10)
	}
	j := New(Config{Root: root, TTL: time.Hour}, WithClock(clock))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := j.SweepOnce(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSweepOnce_LeavingCallerDoesNotAbortSharedSweep(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	clock := NewMockClock(epoch)
	old := createJobDir(t, root, epoch.Add(-2*time.Hour), "aaaaaa", 10)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	inUse := func(string) bool {
		once.Do(func() {
			close(entered)
			<-release
		})
		return false
	}
	j := New(Config{Root: root, TTL: time.Hour}, WithClock(clock), WithInUse(inUse))
	defer j.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := j.SweepOnce(ctx)
		errc <- err
	}()

	<-entered
	cancel()
	select {
	case err := <-errc:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("caller kept waiting after its context ended")
	}
	assert.True(t, exists(t, old), "sweep still blocked")

	close(release)
	require.Eventually(t, func() bool { return !exists(t, old) }, time.Second, 5*time.Millisecond)

	_, err := j.SweepOnce(context.Background())
	require.NoError(t, err)
}

func TestSweepOnce_StopAbortsSweep(t *testing.T) {
	j := New(Config{Root: t.TempDir(), TTL: time.Hour})
	j.Stop()
	_, err := j.SweepOnce(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	old := createJobDir(t, root, time.Now().Add(-2*time.Hour), "aaaaaa", 10)
	j := New(Config{Root: root, TTL: time.Hour, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()

	require.Eventually(t, func() bool { return !exists(t, old) }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
