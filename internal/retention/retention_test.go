package retention

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/servonhq/servon/internal/audit"
	"github.com/servonhq/servon/internal/logstore"
)

// fakeLogStore records DeleteOldLogs calls; other Store methods are unused
// by the sweeper.
type fakeLogStore struct {
	logstore.Store
	mu      sync.Mutex
	calls   int
	days    int
	removed int64
	err     error
}

func (f *fakeLogStore) DeleteOldLogs(_ context.Context, daysOld int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.days = daysOld
	return f.removed, f.err
}

func (f *fakeLogStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordSink) Send(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordSink) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func TestSweepReportsRemovedRows(t *testing.T) {
	fake := &fakeLogStore{removed: 42}
	s := New(fake, 30, "@daily")

	removed, err := s.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 42 {
		t.Fatalf("removed = %d, want 42", removed)
	}
	if fake.days != 30 {
		t.Fatalf("days = %d, want 30", fake.days)
	}
}

func TestSweepError(t *testing.T) {
	fake := &fakeLogStore{err: errors.New("disk gone")}
	s := New(fake, 30, "@daily")
	if _, err := s.Sweep(); err == nil {
		t.Fatalf("expected sweep error")
	}
}

func TestSweepAuditEvent(t *testing.T) {
	fake := &fakeLogStore{removed: 7}
	s := New(fake, 14, "@daily")
	sink := &recordSink{}
	s.SetAuditSinks(sink)

	if _, err := s.Sweep(); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	events := sink.all()
	if len(events) != 1 || events[0].Type != audit.EventPurge {
		t.Fatalf("events = %+v, want one purge", events)
	}
	if !strings.Contains(events[0].Detail, "7") || !strings.Contains(events[0].Detail, "14") {
		t.Fatalf("detail = %q", events[0].Detail)
	}

	// An empty sweep stays silent.
	fake.removed = 0
	if _, err := s.Sweep(); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := len(sink.all()); got != 1 {
		t.Fatalf("events after empty sweep = %d, want 1", got)
	}
}

func TestSweeperSchedules(t *testing.T) {
	fake := &fakeLogStore{}
	s := New(fake, 30, "@every 100ms")

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	if !s.Running() {
		t.Fatal("sweeper should report running")
	}
	if s.NextSweep().IsZero() {
		t.Fatal("no next sweep scheduled")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fake.callCount() >= 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if fake.callCount() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", fake.callCount())
	}

	s.Stop()
	if s.Running() {
		t.Fatal("sweeper still running after stop")
	}
	if !s.NextSweep().IsZero() {
		t.Fatal("next sweep reported after stop")
	}
}

func TestSweeperStartTwice(t *testing.T) {
	s := New(&fakeLogStore{}, 30, "@daily")
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(); err == nil {
		t.Fatalf("expected error for double start")
	}
}

func TestSweeperBadSchedule(t *testing.T) {
	s := New(&fakeLogStore{}, 30, "not a schedule")
	if err := s.Start(); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}
}
