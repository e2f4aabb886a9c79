// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package transcode supervises external transcoder processes. Each run is
// an Attempt that reports through an ordered event stream.
package transcode

import (
	"context"
)

// EventKind classifies attempt events.
type EventKind int

const (
	EventProgress EventKind = iota
	EventSucceeded
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventSucceeded:
		return "succeeded"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is emitted by an Attempt. Progress events carry Fraction in [0,1],
// non-decreasing within the attempt. Exactly one terminal event
// (EventSucceeded or EventFailed) is emitted last, then the channel closes.
type Event struct {
	Kind      EventKind
	Fraction  float64
	OutputDir string
	Err       error
}

// Terminal reports whether e ends the attempt.
func (e Event) Terminal() bool {
	return e.Kind == EventSucceeded || e.Kind == EventFailed
}

// Attempt is a handle on one running transcoder invocation. Callers must
// drain Events until it is closed.
type Attempt interface {
	Strategy() Strategy
	Events() <-chan Event
	// Cancel aborts the attempt. It resolves EventFailed wrapping
	// jobs.ErrCancelled, never EventSucceeded. Safe to call repeatedly.
	Cancel()
}

// Runner starts attempts. Start failures are reported as a failed event,
// never as a returned error.
type Runner interface {
	Run(ctx context.Context, spec Spec) Attempt
}
