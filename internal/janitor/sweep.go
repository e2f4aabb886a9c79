// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package janitor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	xglog "github.com/ManuGH/segsplit/internal/log"
	"github.com/ManuGH/segsplit/internal/metrics"
	"github.com/ManuGH/segsplit/internal/platform/paths"
)

// Report summarizes one sweep.
type Report struct {
	DeletedCount   int      `json:"deletedCount"`
	BytesFreed     int64    `json:"bytesFreed"`
	BytesRemaining int64    `json:"bytesRemaining"`
	Deleted        []string `json:"deleted,omitempty"`
	// Skipped counts job directories left alone because their job is active.
	Skipped int `json:"skipped,omitempty"`
}

type candidate struct {
	name    string
	path    string
	jobID   string
	created time.Time
	size    int64
	isInput bool
}

// SweepOnce runs one TTL pass followed by one quota pass. Concurrent callers
// share a single run and receive the same report. The shared run is bound to
// the janitor, not to the caller that started it: a caller whose ctx ends
// stops waiting with ctx's error while the run completes for the others.
func (j *Janitor) SweepOnce(ctx context.Context) (Report, error) {
	ch := j.sweeps.DoChan("sweep", func() (any, error) {
		return j.sweep(j.life)
	})
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Report{}, res.Err
		}
		return res.Val.(Report), nil
	}
}

func (j *Janitor) sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	var rep Report
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	candidates, total, skipped, err := j.scan()
	if err != nil {
		metrics.IncStorageFailure("scan")
		j.logger.Warn().Err(err).Str(xglog.FieldPath, j.cfg.Root).Msg("sweep scan failed")
		return rep, nil
	}
	rep.Skipped = skipped

	drop := func(c candidate, reason string) {
		if _, ok := j.remove(c.path, reason); !ok {
			return
		}
		if !c.isInput {
			j.forget(c.jobID)
		}
		rep.DeletedCount++
		rep.BytesFreed += c.size
		rep.Deleted = append(rep.Deleted, c.name)
		total -= c.size
	}

	// Pass 1: TTL.
	now := j.clock.Now()
	var survivors []candidate
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if j.cfg.TTL > 0 && now.Sub(c.created) > j.cfg.TTL {
			reason := ReasonTTL
			if c.isInput {
				reason = ReasonInput
			}
			drop(c, reason)
			continue
		}
		if !c.isInput {
			survivors = append(survivors, c)
		}
	}

	// Pass 2: oldest first until the budget holds.
	if j.cfg.MaxBytes > 0 && total > j.cfg.MaxBytes {
		sort.Slice(survivors, func(a, b int) bool {
			if survivors[a].created.Equal(survivors[b].created) {
				return survivors[a].name < survivors[b].name
			}
			return survivors[a].created.Before(survivors[b].created)
		})
		for _, c := range survivors {
			if total <= j.cfg.MaxBytes {
				break
			}
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			drop(c, ReasonQuota)
		}
	}

	rep.BytesRemaining = max(total, 0)
	metrics.ObserveSweep(time.Since(start))
	metrics.SetStorageBytes(rep.BytesRemaining)

	evt := j.logger.Debug()
	if rep.DeletedCount > 0 {
		evt = j.logger.Info()
	}
	evt.Str(xglog.FieldEvent, "janitor.sweep").
		Int("deleted", rep.DeletedCount).
		Int64(xglog.FieldBytesFreed, rep.BytesFreed).
		Int64("bytes_remaining", rep.BytesRemaining).
		Int("skipped_active", rep.Skipped).
		Dur("duration", time.Since(start)).
		Msg("sweep completed")
	return rep, nil
}

// scan lists deletable job data under Root. Every entry counts towards the
// total, but only output directories and input files of inactive jobs are
// candidates.
func (j *Janitor) scan() (cands []candidate, total int64, skipped int, err error) {
	entries, err := os.ReadDir(j.cfg.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, 0, nil
		}
		return nil, 0, 0, err
	}

	for _, e := range entries {
		path := filepath.Join(j.cfg.Root, e.Name())
		size, serr := pathSize(path)
		if serr != nil {
			if errors.Is(serr, fs.ErrNotExist) {
				continue
			}
			metrics.IncStorageFailure("stat")
		}
		total += size

		c := candidate{name: e.Name(), path: path, size: size}
		var ok bool
		if e.IsDir() {
			c.jobID, ok = paths.JobIDFromOutputDir(e.Name())
		} else if e.Type().IsRegular() {
			c.jobID, ok = paths.JobIDFromInputName(e.Name())
			c.isInput = true
		}
		if !ok {
			continue
		}
		if j.inUse(c.jobID) {
			skipped++
			continue
		}
		c.created = j.creationTime(e)
		cands = append(cands, c)
	}
	return cands, total, skipped, nil
}

// creationTime prefers the marker embedded in the name and falls back to the
// modification time.
func (j *Janitor) creationTime(e fs.DirEntry) time.Time {
	if ts, ok := paths.CreatedAtFromName(e.Name()); ok {
		return ts
	}
	if info, err := e.Info(); err == nil {
		return info.ModTime()
	}
	// Unknown age: treat as brand new so it is only reclaimed by quota.
	return j.clock.Now()
}
