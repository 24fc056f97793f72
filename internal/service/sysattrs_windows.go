//go:build windows

package service

import (
	"os/exec"
	"syscall"
)

const createNewProcessGroup = 0x00000200

// ConfigureSysProcAttr creates the child in a new process group so the
// whole tree can be terminated together.
func ConfigureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
