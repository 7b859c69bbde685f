//go:build windows

package sop

import (
	"os/exec"
	"syscall"
)

// killProcessGroup only isolates the step; Windows has no process groups to
// signal, so cancellation kills the direct child.
func killProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
