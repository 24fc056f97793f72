//go:build !windows

package service

import (
	"os/exec"
	"syscall"
)

// ConfigureSysProcAttr places the child in its own process group so the
// whole tree (shell plus grandchildren) can be signalled with one kill.
func ConfigureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
