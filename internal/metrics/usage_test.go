package metrics

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSampleSelf(t *testing.T) {
	u, err := Sample(os.Getpid())
	if err != nil {
		t.Fatalf("sample self: %v", err)
	}
	if u.PID != int32(os.Getpid()) {
		t.Fatalf("pid = %d", u.PID)
	}
	if u.MemoryRSS == 0 {
		t.Fatal("expected nonzero RSS for own process")
	}
	if u.SampledAt.IsZero() {
		t.Fatal("SampledAt not set")
	}
}

func TestSampleUnknownPID(t *testing.T) {
	// PID 0 is never a managed child.
	if _, err := Sample(0); err == nil {
		t.Fatal("expected error for pid 0")
	}
}

func TestSamplerCollectAndCleanup(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Interval: time.Hour})
	reg := prometheus.NewRegistry()
	if err := s.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	self := os.Getpid()
	s.collect(map[string]int{"svc-a": self})
	if _, ok := s.Latest("svc-a"); !ok {
		t.Fatal("expected snapshot for svc-a")
	}

	// Service went away: snapshot and gauges must be dropped.
	s.collect(map[string]int{})
	if _, ok := s.Latest("svc-a"); ok {
		t.Fatal("stale snapshot survived cleanup")
	}
}

func TestSamplerDisabled(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: false})
	if s.Enabled() {
		t.Fatal("expected disabled sampler")
	}
	if err := s.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("register disabled: %v", err)
	}
	// Start/Stop on a disabled sampler are no-ops and must not hang.
	s.Start(context.Background(), func() map[string]int { return nil })
	s.Stop()
}

func TestSamplerStartStop(t *testing.T) {
	s := NewSampler(SamplerConfig{Enabled: true, Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	self := os.Getpid()
	s.Start(ctx, func() map[string]int { return map[string]int{"svc-b": self} })

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := s.Latest("svc-b"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sampler never collected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()
}
