// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Artifact is one output segment and the reference used to fetch it.
type Artifact struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Job is a point-in-time snapshot of a registry record.
type Job struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Progress  int        `json:"progress"`
	Result    []Artifact `json:"files,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

func (j Job) clone() Job {
	j.Result = slices.Clone(j.Result)
	return j
}
