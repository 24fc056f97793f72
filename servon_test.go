package servon

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func newFacade(t *testing.T) *Manager {
	t.Helper()
	st, err := OpenStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	logs, err := OpenLogStore(":memory:")
	if err != nil {
		t.Fatalf("open log store: %v", err)
	}
	t.Cleanup(func() { _ = logs.Close() })
	return New(st, logs)
}

func TestManagerFacadeStartStatusStop(t *testing.T) {
	requireUnix(t)
	m := newFacade(t)
	defer m.Shutdown()

	ws, err := m.CreateWorkspace("facade", t.TempDir())
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	svc, err := m.CreateService(ws.ID, ServiceInput{Name: "pf1", Command: "sleep 2"})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := m.StartService(svc.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, ok := m.ServiceStatus(svc.ID)
	if !ok || st.Status != StatusRunning || st.PID == nil {
		t.Fatalf("unexpected status: %+v ok=%v", st, ok)
	}
	if got := m.RunningServices(); len(got) != 1 {
		t.Fatalf("running = %d, want 1", len(got))
	}
	if pids := m.RunningPIDs(); pids[svc.ID] == 0 {
		t.Fatalf("pids = %+v", pids)
	}
	if err := m.StopService(svc.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitStopped(t, m, svc.ID)
}

func TestWorkspaceFacade(t *testing.T) {
	requireUnix(t)
	m := newFacade(t)
	defer m.Shutdown()

	ws, err := m.CreateWorkspace("grp", t.TempDir())
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	for _, name := range []string{"g-a", "g-b"} {
		if _, err := m.CreateService(ws.ID, ServiceInput{Name: name, Command: "sleep 2"}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if err := m.StartWorkspace(ws.ID); err != nil {
		t.Fatalf("start workspace: %v", err)
	}
	if got := m.RunningServicesForWorkspace(ws.ID); len(got) != 2 {
		t.Fatalf("expected 2 members running, got %d", len(got))
	}
	if err := m.StopWorkspace(ws.ID); err != nil {
		t.Fatalf("stop workspace: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(m.RunningServices()) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("members still running: %+v", m.RunningServices())
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSubscribeFacade(t *testing.T) {
	requireUnix(t)
	m := newFacade(t)
	defer m.Shutdown()

	events, cancel := m.Subscribe()
	defer cancel()

	ws, _ := m.CreateWorkspace("evts", t.TempDir())
	svc, err := m.CreateService(ws.ID, ServiceInput{Name: "e1", Command: "echo hi && sleep 1"})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := m.StartService(svc.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case ev := <-events:
		if ev.ServiceID != svc.ID {
			t.Fatalf("event for wrong service: %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event after start")
	}
	_ = m.StopService(svc.ID)
	waitStopped(t, m, svc.ID)
}

func TestHealthPollerFacade(t *testing.T) {
	requireUnix(t)
	m := newFacade(t)
	defer m.Shutdown()

	p := NewHealthPoller()
	defer p.Close()
	m.SetHealthCoordinator(p)

	ws, _ := m.CreateWorkspace("hc", t.TempDir())
	svc, err := m.CreateService(ws.ID, ServiceInput{Name: "h1", Command: "sleep 2"})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := p.AddCheck(Check{ID: "h1-tcp-0", ServiceID: svc.ID, Type: "tcp", Target: "127.0.0.1:1", Interval: 50 * time.Millisecond, Enabled: true}); err != nil {
		t.Fatalf("add check: %v", err)
	}
	if got := p.ChecksForService(svc.ID); len(got) != 1 {
		t.Fatalf("checks = %d, want 1", len(got))
	}
	if err := m.StartService(svc.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	// The manager starts registered probes alongside the process.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if sts := p.Statuses(svc.ID); len(sts) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("probe never started")
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = m.StopService(svc.ID)
}

func TestSweeperFacade(t *testing.T) {
	logs, err := OpenLogStore(":memory:")
	if err != nil {
		t.Fatalf("open log store: %v", err)
	}
	defer func() { _ = logs.Close() }()

	s := NewSweeper(logs, 7, "@every 1h")
	if err := s.Start(); err != nil {
		t.Fatalf("start sweeper: %v", err)
	}
	if !s.Running() {
		t.Fatal("sweeper not running")
	}
	s.Stop()
	if s.Running() {
		t.Fatal("sweeper still running after stop")
	}
}

func TestConfigHelpers(t *testing.T) {
	dir := t.TempDir()
	body := `
[[workspaces]]
name = "acme"

[[services]]
workspace = "acme"
name = "c1"
command = "sleep 0.1"
port = 3000

[[checks]]
service = "c1"
type = "http"
target = "http://127.0.0.1:3000/healthz"
interval = "1s"
`
	p := filepath.Join(dir, "cfg.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	fc, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(fc.Workspaces) != 1 {
		t.Fatalf("LoadConfig workspaces: len=%d", len(fc.Workspaces))
	}
	if len(fc.Services) != 1 || fc.Services[0].Port != 3000 {
		t.Fatalf("LoadConfig services: %+v", fc.Services)
	}
	if len(fc.Checks) != 1 {
		t.Fatalf("LoadConfig checks: len=%d", len(fc.Checks))
	}
}

func TestHTTPHandlerFacade(t *testing.T) {
	requireUnix(t)
	gin.SetMode(gin.TestMode)
	m := newFacade(t)
	defer m.Shutdown()
	logs, err := OpenLogStore(":memory:")
	if err != nil {
		t.Fatalf("open log store: %v", err)
	}
	defer func() { _ = logs.Close() }()

	srv := httptest.NewServer(NewHTTPHandler(m, logs, "/dash"))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/dash/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestMetricsHelpers(t *testing.T) {
	requireUnix(t)
	if err := RegisterMetrics(prometheus.NewRegistry()); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}

	// Counters only show up in scrapes once a lifecycle ran.
	m := newFacade(t)
	defer m.Shutdown()
	ws, _ := m.CreateWorkspace("mx", t.TempDir())
	svc, err := m.CreateService(ws.ID, ServiceInput{Name: "m1", Command: "sleep 1"})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	if err := m.StartService(svc.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = m.StopService(svc.ID)
	waitStopped(t, m, svc.ID)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("metrics handler status %d", rr.Code)
	}
	body, _ := io.ReadAll(rr.Result().Body)
	if !strings.Contains(string(body), "servon_service_starts_total") {
		t.Fatalf("metrics output missing start counter: %s", body)
	}
}

func waitStopped(t *testing.T, m *Manager, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		st, ok := m.ServiceStatus(id)
		if !ok || st.Status != StatusRunning {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("service %s still running: %+v", id, st)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
