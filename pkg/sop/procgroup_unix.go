//go:build unix

package sop

import (
	"os/exec"
	"syscall"
)

// killProcessGroup runs cmd as the leader of a new process group and makes
// context cancellation kill the whole group, so a timed-out step cannot
// leave children behind.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
