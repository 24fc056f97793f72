package health

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func waitForStatus(t *testing.T, p *Poller, checkID string, want bool) Status {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := p.Status(checkID); ok && st.Healthy == want {
			return st
		}
		time.Sleep(20 * time.Millisecond)
	}
	st, ok := p.Status(checkID)
	t.Fatalf("status for %s never became healthy=%v (ok=%v, last=%+v)", checkID, want, ok, st)
	return Status{}
}

func TestPollerHTTPCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPoller()
	defer p.Close()

	c := Check{ID: "c1", ServiceID: "svc-1", Enabled: true, Type: TypeHTTP, Target: srv.URL, Interval: 50 * time.Millisecond}
	if err := p.StartCheck(c); err != nil {
		t.Fatalf("start check: %v", err)
	}
	st := waitForStatus(t, p, "c1", true)
	if st.ServiceID != "svc-1" || st.Err != "" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestPollerHTTPCheckUnhealthyOn500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoller()
	defer p.Close()

	c := Check{ID: "c1", ServiceID: "svc-1", Type: TypeHTTP, Target: srv.URL, Interval: 50 * time.Millisecond}
	if err := p.StartCheck(c); err != nil {
		t.Fatalf("start check: %v", err)
	}
	st := waitForStatus(t, p, "c1", false)
	if st.Err == "" {
		t.Fatal("expected probe error for 500")
	}
}

func TestPollerTCPCheck(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()

	p := NewPoller()
	defer p.Close()

	c := Check{ID: "tcp1", ServiceID: "svc-1", Type: TypeTCP, Target: ln.Addr().String(), Interval: 50 * time.Millisecond}
	if err := p.StartCheck(c); err != nil {
		t.Fatalf("start check: %v", err)
	}
	waitForStatus(t, p, "tcp1", true)
}

func TestPollerStopCheckHaltsProbing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewPoller()
	defer p.Close()

	c := Check{ID: "c1", ServiceID: "svc-1", Type: TypeHTTP, Target: srv.URL, Interval: 30 * time.Millisecond}
	if err := p.StartCheck(c); err != nil {
		t.Fatalf("start check: %v", err)
	}
	waitForStatus(t, p, "c1", true)
	p.StopCheck("c1")

	st1, _ := p.Status("c1")
	time.Sleep(150 * time.Millisecond)
	st2, _ := p.Status("c1")
	if !st1.CheckedAt.Equal(st2.CheckedAt) {
		t.Fatal("probe kept running after stop")
	}
	// Stopping twice is harmless.
	p.StopCheck("c1")
}

func TestPollerStartCheckIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	defer srv.Close()

	p := NewPoller()
	defer p.Close()

	c := Check{ID: "c1", ServiceID: "svc-1", Type: TypeHTTP, Target: srv.URL, Interval: time.Hour}
	if err := p.StartCheck(c); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := p.StartCheck(c); err != nil {
		t.Fatalf("second start: %v", err)
	}
	p.mu.Lock()
	n := len(p.active)
	p.mu.Unlock()
	if n != 1 {
		t.Fatalf("active loops = %d, want 1", n)
	}
}

func TestPollerChecksForService(t *testing.T) {
	p := NewPoller()
	defer p.Close()

	if err := p.AddCheck(Check{ID: "a", ServiceID: "svc-1", Type: TypeTCP, Target: "127.0.0.1:1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := p.AddCheck(Check{ID: "b", ServiceID: "svc-2", Type: TypeTCP, Target: "127.0.0.1:1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	got := p.ChecksForService("svc-1")
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("checks: %+v", got)
	}
	if got[0].Interval != DefaultInterval {
		t.Fatalf("interval default not applied: %v", got[0].Interval)
	}

	p.RemoveCheck("a")
	if got := p.ChecksForService("svc-1"); len(got) != 0 {
		t.Fatalf("check survived remove: %+v", got)
	}
}

func TestPollerValidation(t *testing.T) {
	p := NewPoller()
	defer p.Close()

	cases := []Check{
		{ServiceID: "s", Type: TypeHTTP, Target: "http://x"},
		{ID: "i", Type: TypeHTTP, Target: "http://x"},
		{ID: "i", ServiceID: "s", Type: TypeHTTP},
		{ID: "i", ServiceID: "s", Type: "icmp", Target: "x"},
	}
	for i, c := range cases {
		if err := p.AddCheck(c); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestNopCoordinator(t *testing.T) {
	var c Coordinator = Nop{}
	if got := c.ChecksForService("svc"); len(got) != 0 {
		t.Fatalf("nop returned checks: %+v", got)
	}
	if err := c.StartCheck(Check{}); err != nil {
		t.Fatalf("nop start: %v", err)
	}
	c.StopCheck("x")
}
