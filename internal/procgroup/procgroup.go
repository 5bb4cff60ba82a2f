// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup spawns transcode subprocesses in their own process
// group and escalates termination SIGTERM -> grace -> SIGKILL. Grouping
// matters because ffmpeg and HandBrakeCLI fork helpers that must not
// outlive a cancelled job.
package procgroup

import (
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/ripflow/internal/metrics"
)

// ErrKillFailed is returned when a process survives SIGKILL past the wait
// timeout.
var ErrKillFailed = errors.New("kill operation failed")

// Terminate gracefully stops a running command. It sends SIGTERM to the
// group, waits up to grace for the exit delivered on waitCh, then SIGKILLs
// and waits up to grace again. Returns ErrKillFailed if the process still
// has not exited by then. Safe on nil or never-started commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	recordSignal("SIGTERM", Kill(cmd, syscall.SIGTERM))

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	recordSignal("SIGKILL", Kill(cmd, syscall.SIGKILL))

	// SIGKILL frees a blocked child. A process that outlives it is stuck in
	// the kernel (uninterruptible I/O); report that instead of hanging.
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		return ErrKillFailed
	}
}

func recordSignal(signal string, err error) {
	switch {
	case err == nil:
		metrics.IncProcTermination(signal, "sent")
	case strings.Contains(err.Error(), "process already finished"),
		strings.Contains(err.Error(), "no such process"):
		metrics.IncProcTermination(signal, "esrch")
	default:
		metrics.IncProcTermination(signal, "error")
	}
}
