package manager

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/servonhq/servon/internal/metrics"
	"github.com/servonhq/servon/internal/service"
)

// Status is the run-state of a tracked service.
type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// ServiceInput carries the caller-supplied fields of a new service
// definition. The manager fills in the id and ownership.
type ServiceInput struct {
	Name     string            `json:"name"`
	RepoPath string            `json:"repoPath"`
	Command  string            `json:"command"`
	Port     int               `json:"port,omitempty"`
	EnvVars  map[string]string `json:"envVars,omitempty"`
}

func (in ServiceInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.TrimSpace(in.Command) == "" {
		return fmt.Errorf("service command is required")
	}
	if in.Port < 0 || in.Port > 65535 {
		return fmt.Errorf("port %d out of range", in.Port)
	}
	return nil
}

// RunningService is a point-in-time snapshot of a tracked run. PID is nil
// once the process has exited; ExitCode stays nil while running and for
// signal-killed runs.
type RunningService struct {
	ServiceID    string     `json:"serviceId"`
	WorkspaceID  string     `json:"workspaceId"`
	Name         string     `json:"name"`
	PID          *int       `json:"pid,omitempty"`
	Status       Status     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	StoppedAt    *time.Time `json:"stoppedAt,omitempty"`
	ExitCode     *int       `json:"exitCode,omitempty"`
	LogSessionID int64      `json:"logSessionId,omitempty"`
}

// ServiceStatusDetail extends the snapshot with live resource usage when the
// process is running.
type ServiceStatusDetail struct {
	RunningService
	Usage *metrics.ProcessUsage `json:"usage,omitempty"`
}

// slot serializes lifecycle operations for one service id. cur is the
// current run generation; exit handlers finalize only their own generation.
type slot struct {
	mu  sync.Mutex
	cur *run
}

// run is the live record of one spawned process. Mutated only under the
// owning slot's lock, except ring (ringMu) which the capture pumps feed.
type run struct {
	serviceID   string
	workspaceID string
	name        string

	cmd       *exec.Cmd
	pid       *int
	status    Status
	startedAt time.Time
	stoppedAt *time.Time
	exitCode  *int
	sessionID int64

	ringMu sync.Mutex
	ring   *service.Ring

	killTimer     *time.Timer
	stopRequested bool
	pumps         sync.WaitGroup

	mirrorOut io.WriteCloser
	mirrorErr io.WriteCloser
}

// snapshot copies the run into a caller-safe value. Callers must hold the
// slot lock.
func (r *run) snapshot() RunningService {
	rs := RunningService{
		ServiceID:    r.serviceID,
		WorkspaceID:  r.workspaceID,
		Name:         r.name,
		Status:       r.status,
		StartedAt:    r.startedAt,
		LogSessionID: r.sessionID,
	}
	if r.pid != nil {
		pid := *r.pid
		rs.PID = &pid
	}
	if r.stoppedAt != nil {
		t := *r.stoppedAt
		rs.StoppedAt = &t
	}
	if r.exitCode != nil {
		c := *r.exitCode
		rs.ExitCode = &c
	}
	return rs
}
