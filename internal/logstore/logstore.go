package logstore

import (
	"context"
	"strings"
	"time"
)

// MaxMessageLen is the longest message stored per entry. Longer messages are
// cut and suffixed with TruncationMark so runaway process output cannot grow
// rows without bound.
const (
	MaxMessageLen  = 10000
	TruncationMark = "...[truncated]"
)

// DefaultQueryLimit bounds Logs/ServiceLogs results when the filter gives none.
const DefaultQueryLimit = 500

// Level classifies a captured line. It is advisory metadata derived from the
// line text (see ParseLevel); stderr lines are always LevelError.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelDebug Level = "debug"
)

// ExitReason records why a session ended.
// ReasonStopped: clean exit (code 0). ReasonKilled: terminated by signal, no
// exit code. ReasonCrashed: any other nonzero exit code.
type ExitReason string

const (
	ReasonStopped ExitReason = "stopped"
	ReasonKilled  ExitReason = "killed"
	ReasonCrashed ExitReason = "crashed"
)

// Session spans one process run, from spawn to confirmed exit.
// StoppedAt, ExitCode and ExitReason stay unset until the run ends.
type Session struct {
	ID         int64      `json:"id"`
	ServiceID  string     `json:"serviceId"`
	StartedAt  time.Time  `json:"startedAt"`
	StoppedAt  *time.Time `json:"stoppedAt,omitempty"`
	ExitCode   *int       `json:"exitCode,omitempty"`
	ExitReason ExitReason `json:"exitReason,omitempty"`
	LogsCount  int64      `json:"logsCount"`
}

// Entry is one stored log line. ID is assigned by the engine and defines
// arrival order; timestamps may tie within a batch.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	ServiceID string    `json:"serviceId"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Line is the write-side input for WriteLogs. An empty Level is classified
// with ParseLevel at write time.
type Line struct {
	Message string `json:"message"`
	Level   Level  `json:"level,omitempty"`
}

// Filter narrows log queries. Zero values mean "no constraint"; Limit
// defaults to DefaultQueryLimit. SessionID only applies to ServiceLogs.
type Filter struct {
	SessionID int64  `json:"sessionId,omitempty"`
	Level     Level  `json:"level,omitempty"`
	Search    string `json:"search,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Stats summarizes stored logs for one service.
type Stats struct {
	TotalSessions  int64           `json:"totalSessions"`
	TotalLogs      int64           `json:"totalLogs"`
	ActiveSessions int64           `json:"activeSessions"`
	LogsByLevel    map[Level]int64 `json:"logsByLevel"`
}

// Store is the durable log persistence contract. Implementations must support
// concurrent transactional writers; WriteLogs batches are all-or-nothing and
// bump the session's LogsCount in the same transaction.
type Store interface {
	EnsureSchema(ctx context.Context) error

	CreateSession(ctx context.Context, serviceID string) (Session, error)
	// EndSession closes an open session exactly once. It reports false when
	// the session is unknown or already closed.
	EndSession(ctx context.Context, sessionID int64, exitCode *int, reason ExitReason) (bool, error)
	// Session returns one session by id; ok is false when unknown.
	Session(ctx context.Context, sessionID int64) (Session, bool, error)
	// Sessions lists a service's sessions, most recent first.
	Sessions(ctx context.Context, serviceID string, limit int) ([]Session, error)

	WriteLogs(ctx context.Context, sessionID int64, serviceID string, lines []Line) error
	LogCount(ctx context.Context, sessionID int64) (int64, error)

	// Logs returns entries of one session ascending by arrival order.
	Logs(ctx context.Context, sessionID int64, f Filter) ([]Entry, error)
	// ServiceLogs returns entries across sessions descending by arrival order
	// (most recent first).
	ServiceLogs(ctx context.Context, serviceID string, f Filter) ([]Entry, error)
	Stats(ctx context.Context, serviceID string) (Stats, error)

	// DeleteSession removes a session and its entries; unknown ids are a no-op.
	DeleteSession(ctx context.Context, sessionID int64) error
	// DeleteServiceLogs removes all sessions and entries of a service and
	// returns the total row count removed.
	DeleteServiceLogs(ctx context.Context, serviceID string) (int64, error)
	// DeleteOldLogs removes sessions started more than daysOld days ago,
	// entries first, and returns the total row count removed.
	DeleteOldLogs(ctx context.Context, daysOld int) (int64, error)

	Close() error
}

// ParseLevel guesses a severity from the line text. Matching is by lowercase
// substring in priority order; unmatched lines are info.
func ParseLevel(message string) Level {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "error") || strings.Contains(m, "fail") || strings.Contains(m, "exception"):
		return LevelError
	case strings.Contains(m, "warn"):
		return LevelWarn
	case strings.Contains(m, "debug") || strings.Contains(m, "trace"):
		return LevelDebug
	default:
		return LevelInfo
	}
}

// Truncate caps message at MaxMessageLen characters, appending TruncationMark
// when anything was cut. The cut is rune-safe so stored text stays valid UTF-8.
func Truncate(message string) string {
	if len(message) <= MaxMessageLen {
		return message
	}
	n := 0
	for i := range message {
		if n == MaxMessageLen {
			return message[:i] + TruncationMark
		}
		n++
	}
	return message
}
