package manager

import "errors"

// Sentinel errors returned by manager operations. Callers compare with
// errors.Is.
var (
	ErrServiceNotFound   = errors.New("service not found")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrAlreadyRunning    = errors.New("service already running")
)
