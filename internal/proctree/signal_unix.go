//go:build unix

package proctree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// listTimeout bounds the ps call made before a forceful kill.
const listTimeout = 5 * time.Second

// Setpgid starts cmd in its own process group so the whole group can be
// signalled.
func Setpgid(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// TerminateOnCancel makes cancellation of cmd's context send SIGTERM to its
// process group instead of SIGKILL to the process. cmd must come from
// exec.CommandContext; Start rejects a Cancel func otherwise.
func TerminateOnCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return Terminate(cmd.Process.Pid)
	}
}

// Terminate asks the process group led by pid to exit with SIGTERM.
func Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// Kill sends SIGKILL to the process group led by pid and to every descendant
// of pid. A process that already exited is not an error.
func Kill(pid int) error {
	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), listTimeout)
	defer cancel()
	// Without a process table only the group is signalled.
	var descendants []int
	if procs, err := List(ctx); err == nil {
		descendants = Descendants(pid, procs)
	}

	if err := signalGroup(pid, unix.SIGKILL); err != nil {
		result = multierror.Append(result, err)
	}
	for _, child := range FilterKillable(descendants, os.Getpid()) {
		if err := unix.Kill(child, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			result = multierror.Append(result, fmt.Errorf("pid %d: %w", child, err))
		}
	}
	return result.ErrorOrNil()
}

func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 1 || pid == os.Getpid() {
		return fmt.Errorf("%w: %d", ErrRefusedPID, pid)
	}
	// Negative pid addresses the group; fall back to the process itself when
	// it is not a group leader.
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EPERM) {
		err = unix.Kill(pid, sig)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("signal %s to pid %d: %w", sig, pid, err)
	}
	return nil
}
