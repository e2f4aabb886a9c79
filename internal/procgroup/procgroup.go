// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts transcoder processes in their own process group
// and tears the whole group down on abort.
package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/segsplit/internal/metrics"
)

// Terminate stops the process group of cmd: SIGTERM, then SIGKILL once grace
// has elapsed. waitCh must deliver the result of cmd.Wait; Terminate always
// drains it, so the caller must not read it afterwards. killed reports
// whether SIGKILL was needed.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) (killed bool, err error) {
	if cmd == nil || cmd.Process == nil {
		return false, nil
	}

	signalGroup(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		recordWait(err, false)
		return false, err
	case <-timer.C:
	}

	signalGroup(cmd, syscall.SIGKILL)
	err = <-waitCh
	recordWait(err, true)
	return true, err
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	if err := Kill(cmd, sig); err != nil {
		metrics.IncProcTerminate(name, "error")
		return
	}
	metrics.IncProcTerminate(name, "sent")
}

func recordWait(err error, forced bool) {
	outcome := "exit0"
	if err != nil {
		outcome = "exit_nonzero"
	}
	if forced {
		outcome = "forced_" + outcome
	}
	metrics.IncProcWait(outcome)
}
