// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcode

import (
	"errors"
	"time"
)

type watchState int

const (
	stateStarting watchState = iota
	stateRunning
	stateStalled
	stateTimedOut
	stateCompleted
)

var (
	errStartTimeout = errors.New("no progress before start timeout")
	errStalled      = errors.New("progress stalled")
)

// watchdog enforces a start timeout (first meaningful progress) and a stall
// timeout (gap between advancing progress blocks). It is driven by a single
// goroutine and is not safe for concurrent use.
type watchdog struct {
	startTimeout time.Duration
	stallTimeout time.Duration

	now       func() time.Time
	heartbeat time.Time
	last      Progress
	state     watchState
}

func newWatchdog(startTimeout, stallTimeout time.Duration, now func() time.Time) *watchdog {
	if now == nil {
		now = time.Now
	}
	return &watchdog{
		startTimeout: startTimeout,
		stallTimeout: stallTimeout,
		now:          now,
		heartbeat:    now(),
		state:        stateStarting,
	}
}

// Observe records a progress block.
func (w *watchdog) Observe(p Progress) {
	if p.End {
		w.state = stateCompleted
		return
	}
	if !p.hasAdvanced(w.last) {
		return
	}
	w.last = p
	w.heartbeat = w.now()
	if w.state == stateStarting {
		w.state = stateRunning
	}
}

// Check returns an error once a timeout has been exceeded. A zero timeout
// disables the corresponding check.
func (w *watchdog) Check() error {
	elapsed := w.now().Sub(w.heartbeat)
	switch w.state {
	case stateStarting:
		if w.startTimeout > 0 && elapsed > w.startTimeout {
			w.state = stateTimedOut
			return errStartTimeout
		}
	case stateRunning:
		if w.stallTimeout > 0 && elapsed > w.stallTimeout {
			w.state = stateStalled
			return errStalled
		}
	}
	return nil
}

func (w *watchdog) phase() string {
	if w.state == stateTimedOut || w.state == stateStarting {
		return "start"
	}
	return "progress"
}
