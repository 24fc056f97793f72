//go:build !windows

package service

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"syscall"
)

// TerminateTree sends sig to the process group rooted at pid, falling back
// to the single process when the group is already gone.
func TerminateTree(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// Alive reports whether pid refers to a live process. On Linux a reaped but
// not yet waited child shows up as a zombie; that counts as not alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombie(pid) {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// isZombie returns true if /proc/<pid>/status reports state Z.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
