package client

import "time"

// Workspace mirrors the server's workspace resource.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"rootPath"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service mirrors the server's stored service definition.
type Service struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspaceId"`
	Name        string            `json:"name"`
	RepoPath    string            `json:"repoPath"`
	Command     string            `json:"command"`
	Port        int               `json:"port,omitempty"`
	EnvVars     map[string]string `json:"envVars,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// CreateWorkspaceRequest creates a workspace.
type CreateWorkspaceRequest struct {
	Name     string `json:"name"`
	RootPath string `json:"rootPath,omitempty"`
}

// CreateServiceRequest creates a service inside a workspace.
type CreateServiceRequest struct {
	WorkspaceID string            `json:"workspaceId"`
	Name        string            `json:"name"`
	RepoPath    string            `json:"repoPath,omitempty"`
	Command     string            `json:"command"`
	Port        int               `json:"port,omitempty"`
	EnvVars     map[string]string `json:"envVars,omitempty"`
}

// ServicePatch is a partial service update; nil fields are left unchanged.
type ServicePatch struct {
	Name     *string            `json:"name,omitempty"`
	RepoPath *string            `json:"repoPath,omitempty"`
	Command  *string            `json:"command,omitempty"`
	Port     *int               `json:"port,omitempty"`
	EnvVars  *map[string]string `json:"envVars,omitempty"`
}

// RunSnapshot is a point-in-time view of a tracked run. PID is nil once the
// process exited; ExitCode stays nil while running and for signal kills.
type RunSnapshot struct {
	ServiceID    string     `json:"serviceId"`
	WorkspaceID  string     `json:"workspaceId"`
	Name         string     `json:"name"`
	PID          *int       `json:"pid,omitempty"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	StoppedAt    *time.Time `json:"stoppedAt,omitempty"`
	ExitCode     *int       `json:"exitCode,omitempty"`
	LogSessionID int64      `json:"logSessionId,omitempty"`
}

// ProcessUsage carries live resource usage of a running service.
type ProcessUsage struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	SampledAt  time.Time `json:"sampled_at"`
}

// ServiceStatus extends the run snapshot with resource usage when running.
type ServiceStatus struct {
	RunSnapshot
	Usage *ProcessUsage `json:"usage,omitempty"`
}

// Check is one health probe bound to a service.
type Check struct {
	ID        string        `json:"id"`
	ServiceID string        `json:"serviceId"`
	Enabled   bool          `json:"enabled"`
	Type      string        `json:"type"`
	Target    string        `json:"target"`
	Interval  time.Duration `json:"interval"`
}

// CheckStatus is the latest probe outcome for one check.
type CheckStatus struct {
	CheckID   string    `json:"checkId"`
	ServiceID string    `json:"serviceId"`
	Healthy   bool      `json:"healthy"`
	CheckedAt time.Time `json:"checkedAt"`
	Err       string    `json:"error,omitempty"`
}

// ChecksResponse pairs a service's check definitions with probe results.
type ChecksResponse struct {
	Checks   []Check       `json:"checks"`
	Statuses []CheckStatus `json:"statuses"`
}

// Session spans one process run in the log store.
type Session struct {
	ID         int64      `json:"id"`
	ServiceID  string     `json:"serviceId"`
	StartedAt  time.Time  `json:"startedAt"`
	StoppedAt  *time.Time `json:"stoppedAt,omitempty"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	ExitReason string     `json:"exitReason,omitempty"`
	LogsCount  int64      `json:"logsCount"`
}

// LogEntry is one persisted log line.
type LogEntry struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	ServiceID string    `json:"serviceId"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// LogStats summarizes persisted logs for one service.
type LogStats struct {
	TotalSessions  int64            `json:"totalSessions"`
	TotalLogs      int64            `json:"totalLogs"`
	ActiveSessions int64            `json:"activeSessions"`
	LogsByLevel    map[string]int64 `json:"logsByLevel"`
}

// LogQuery narrows log history requests. Zero values mean no constraint.
type LogQuery struct {
	SessionID int64
	Level     string
	Search    string
	Limit     int
	Offset    int
}

// Event is one server-sent lifecycle notification.
type Event struct {
	Type      string    `json:"type"`
	ServiceID string    `json:"service_id"`
	At        time.Time `json:"at"`
	Source    string    `json:"source,omitempty"`
	Lines     []string  `json:"lines,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// ErrorResponse is the server's error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
