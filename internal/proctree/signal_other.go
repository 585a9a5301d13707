//go:build !unix

package proctree

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Setpgid is a no-op. Process groups are unix-only.
func Setpgid(cmd *exec.Cmd) {}

// TerminateOnCancel wires cmd.Cancel to Terminate. cmd must come from
// exec.CommandContext.
func TerminateOnCancel(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		return Terminate(cmd.Process.Pid)
	}
}

// Terminate has no cooperative signal here, so it kills the process.
func Terminate(pid int) error {
	return Kill(pid)
}

// Kill kills the process. Descendants are not tracked on this platform.
func Kill(pid int) error {
	if pid <= 1 || pid == os.Getpid() {
		return fmt.Errorf("%w: %d", ErrRefusedPID, pid)
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}
