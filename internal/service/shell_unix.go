//go:build !windows

package service

import "os/exec"

// shellCommand wraps a script in the system shell. The absolute path avoids
// PATH dependency when the child environment is overridden.
func shellCommand(script string) *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}

// trueCommand returns a command that always succeeds.
func trueCommand() *exec.Cmd {
	// #nosec G204
	return exec.Command("/bin/true")
}
