package event

import "time"

// Type discriminates bus events.
type Type string

const (
	// TypeLog carries a batch of captured output lines.
	TypeLog Type = "log"
	// TypeExit reports a process exit with its code.
	TypeExit Type = "exit"
	// TypeError reports a failure such as a spawn error.
	TypeError Type = "error"
)

// Event is one notification published by the manager. Fields beyond Type,
// ServiceID and At are set per type: Source and Lines for log events,
// ExitCode for exit events, Err for error events.
type Event struct {
	Type      Type      `json:"type"`
	ServiceID string    `json:"service_id"`
	At        time.Time `json:"at"`
	Source    string    `json:"source,omitempty"`
	Lines     []string  `json:"lines,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Err       string    `json:"error,omitempty"`
}

// Log builds a log event for a batch of captured lines.
// source is "stdout" or "stderr".
func Log(serviceID, source string, lines []string) Event {
	return Event{Type: TypeLog, ServiceID: serviceID, At: time.Now(), Source: source, Lines: lines}
}

// Exit builds an exit event. code is nil when the process was killed by a
// signal and no exit code exists.
func Exit(serviceID string, code *int) Event {
	return Event{Type: TypeExit, ServiceID: serviceID, At: time.Now(), ExitCode: code}
}

// Error builds an error event.
func Error(serviceID string, err error) Event {
	e := Event{Type: TypeError, ServiceID: serviceID, At: time.Now()}
	if err != nil {
		e.Err = err.Error()
	}
	return e
}
