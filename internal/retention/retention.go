package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/servonhq/servon/internal/audit"
	"github.com/servonhq/servon/internal/logstore"
	"github.com/servonhq/servon/internal/metrics"
)

// Sweeper deletes log sessions older than the retention window on a cron
// schedule. A sweep can also be triggered directly via Sweep.
type Sweeper struct {
	mu        sync.Mutex
	logs      logstore.Store
	sinks     []audit.Sink
	days      int
	schedule  string
	scheduler *cron.Cron
	entryID   cron.EntryID
	running   bool
}

// New creates a sweeper removing sessions older than days, scheduled by a
// cron expression ("0 3 * * *", "@daily", "@every 1h").
func New(logs logstore.Store, days int, schedule string) *Sweeper {
	return &Sweeper{
		logs:      logs,
		days:      days,
		schedule:  schedule,
		scheduler: cron.New(),
	}
}

// SetAuditSinks configures sinks receiving a purge event per sweep.
func (s *Sweeper) SetAuditSinks(sinks ...audit.Sink) {
	s.mu.Lock()
	s.sinks = append([]audit.Sink(nil), sinks...)
	s.mu.Unlock()
}

// Start schedules the sweep.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("retention sweeper already started")
	}
	id, err := s.scheduler.AddFunc(s.schedule, func() { _, _ = s.Sweep() })
	if err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", s.schedule, err)
	}
	s.entryID = id
	s.running = true
	s.scheduler.Start()
	slog.Info("retention sweeper scheduled", "schedule", s.schedule, "days", s.days)
	return nil
}

// Stop halts scheduling. Running sweeps finish on their own.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.scheduler.Stop()
	s.running = false
	slog.Info("retention sweeper stopped")
}

// Running reports whether the sweeper is scheduled.
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextSweep returns the next scheduled run, zero when not running.
func (s *Sweeper) NextSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return time.Time{}
	}
	for _, entry := range s.scheduler.Entries() {
		if entry.ID == s.entryID {
			return entry.Next
		}
	}
	return time.Time{}
}

// Sweep runs one deletion pass and returns the rows removed.
func (s *Sweeper) Sweep() (int64, error) {
	s.mu.Lock()
	days := s.days
	sinks := append([]audit.Sink(nil), s.sinks...)
	s.mu.Unlock()

	ctx := context.Background()
	removed, err := s.logs.DeleteOldLogs(ctx, days)
	if err != nil {
		slog.Error("retention sweep failed", "days", days, "error", err)
		return 0, err
	}
	metrics.AddPurgedLogs(removed)
	if removed > 0 {
		e := audit.Event{
			Type:       audit.EventPurge,
			OccurredAt: time.Now().UTC(),
			Detail:     fmt.Sprintf("removed %d rows older than %d days", removed, days),
		}
		for _, sink := range sinks {
			_ = sink.Send(ctx, e)
		}
	}
	slog.Info("retention sweep complete", "removed", removed, "days", days)
	return removed, nil
}
