package health

import "time"

// CheckType selects the probe protocol.
type CheckType string

const (
	TypeHTTP CheckType = "http"
	TypeTCP  CheckType = "tcp"
)

// DefaultInterval is used when a check does not set one.
const DefaultInterval = 10 * time.Second

// Check is one health probe bound to a service. Target is a URL for http
// checks and a host:port address for tcp checks.
type Check struct {
	ID        string        `json:"id"`
	ServiceID string        `json:"serviceId"`
	Enabled   bool          `json:"enabled"`
	Type      CheckType     `json:"type"`
	Target    string        `json:"target"`
	Interval  time.Duration `json:"interval"`
}

// Coordinator is the surface the manager drives: it asks which checks a
// service has, starts the enabled ones after a successful spawn, and stops
// them all when the process goes away for any reason.
type Coordinator interface {
	ChecksForService(serviceID string) []Check
	StartCheck(c Check) error
	StopCheck(checkID string)
}

// Nop is a Coordinator with no checks. It keeps the manager usable without
// a health system wired in.
type Nop struct{}

func (Nop) ChecksForService(string) []Check { return nil }
func (Nop) StartCheck(Check) error          { return nil }
func (Nop) StopCheck(string)                {}
