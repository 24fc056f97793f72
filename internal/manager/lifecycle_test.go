package manager

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/servonhq/servon/internal/audit"
	"github.com/servonhq/servon/internal/event"
	"github.com/servonhq/servon/internal/health"
	"github.com/servonhq/servon/internal/logger"
	"github.com/servonhq/servon/internal/logstore"
	"github.com/servonhq/servon/internal/service"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("lifecycle tests use unix shell commands")
	}
}

// waitForExit drains sub until an exit event for serviceID arrives and
// returns it along with every log event seen on the way.
func waitForExit(t *testing.T, sub <-chan event.Event, serviceID string, timeout time.Duration) (event.Event, []event.Event) {
	t.Helper()
	var logs []event.Event
	deadline := time.After(timeout)
	for {
		select {
		case e := <-sub:
			if e.ServiceID != serviceID {
				continue
			}
			switch e.Type {
			case event.TypeLog:
				logs = append(logs, e)
			case event.TypeExit:
				return e, logs
			}
		case <-deadline:
			t.Fatal("no exit event before timeout")
		}
	}
}

func TestStartCaptureAndExit(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "echo hi && sleep 0.3")

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	rs, ok := m.ServiceStatus(cfg.ID)
	if !ok {
		t.Fatal("no runtime record after start")
	}
	if rs.Status != StatusRunning {
		t.Fatalf("status = %q, want running", rs.Status)
	}
	if rs.PID == nil || *rs.PID <= 0 {
		t.Fatalf("pid = %v, want a positive pid", rs.PID)
	}
	if rs.LogSessionID == 0 {
		t.Fatal("no log session opened")
	}

	exitEv, logEvs := waitForExit(t, sub, cfg.ID, 5*time.Second)
	if exitEv.ExitCode == nil || *exitEv.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", exitEv.ExitCode)
	}

	var sawHi bool
	for _, e := range logEvs {
		for _, line := range e.Lines {
			if line == "hi" {
				sawHi = true
			}
		}
	}
	if !sawHi {
		t.Fatalf("no log event carried the echoed line, got %+v", logEvs)
	}

	// The exit handler finishes its bookkeeping after publishing the event.
	waitUntil(t, 2*time.Second, func() bool {
		rs, _ := m.ServiceStatus(cfg.ID)
		return rs.Status == StatusStopped
	})
	rs, _ = m.ServiceStatus(cfg.ID)
	if rs.PID != nil {
		t.Fatalf("pid = %v after exit, want nil", rs.PID)
	}
	if rs.ExitCode == nil || *rs.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", rs.ExitCode)
	}
	if rs.StoppedAt == nil {
		t.Fatal("stoppedAt not set after exit")
	}

	lines := m.ServiceLogs(cfg.ID, 0)
	if len(lines) == 0 || !strings.Contains(strings.Join(lines, "\n"), "hi") {
		t.Fatalf("ring logs = %v", lines)
	}

	sessions, err := m.logs.Sessions(context.Background(), cfg.ID, 10)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.StoppedAt == nil || s.ExitCode == nil || *s.ExitCode != 0 {
		t.Fatalf("session not closed cleanly: %+v", s)
	}
	if s.ExitReason != logstore.ReasonStopped {
		t.Fatalf("exit reason = %q, want stopped", s.ExitReason)
	}
	if s.LogsCount == 0 {
		t.Fatal("no lines persisted for the session")
	}
}

func TestStartTwiceReturnsAlreadyRunning(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "sleep 5")

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := m.StartService(cfg.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second start err = %v, want ErrAlreadyRunning", err)
	}
	if err := m.StopService(cfg.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStopTerminatesProcess(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "sleep 30")

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	rs, _ := m.ServiceStatus(cfg.ID)
	pid := *rs.PID

	if err := m.StopService(cfg.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Status flips immediately; the exit handler confirms afterwards.
	rs, _ = m.ServiceStatus(cfg.ID)
	if rs.Status != StatusStopped {
		t.Fatalf("status after stop = %q, want stopped", rs.Status)
	}

	exitEv, _ := waitForExit(t, sub, cfg.ID, 5*time.Second)
	if exitEv.ExitCode != nil {
		t.Fatalf("exit code = %v for a signaled process, want nil", *exitEv.ExitCode)
	}

	waitUntil(t, 2*time.Second, func() bool { return !service.Alive(pid) })

	// A stop requested by the user never surfaces as an error state.
	waitUntil(t, 2*time.Second, func() bool {
		rs, _ := m.ServiceStatus(cfg.ID)
		return rs.Status == StatusStopped && rs.PID == nil
	})

	sessions, err := m.logs.Sessions(context.Background(), cfg.ID, 1)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("sessions: %v (%d)", err, len(sessions))
	}
	if sessions[0].ExitReason != logstore.ReasonKilled {
		t.Fatalf("exit reason = %q, want killed", sessions[0].ExitReason)
	}
}

func TestCrashSetsErrorStatus(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "sleep 0.05; exit 3")

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	exitEv, _ := waitForExit(t, sub, cfg.ID, 5*time.Second)
	if exitEv.ExitCode == nil || *exitEv.ExitCode != 3 {
		t.Fatalf("exit code = %v, want 3", exitEv.ExitCode)
	}

	waitUntil(t, 2*time.Second, func() bool {
		rs, _ := m.ServiceStatus(cfg.ID)
		return rs.Status == StatusError
	})
	rs, _ := m.ServiceStatus(cfg.ID)
	if rs.ExitCode == nil || *rs.ExitCode != 3 {
		t.Fatalf("recorded exit code = %v, want 3", rs.ExitCode)
	}

	sessions, _ := m.logs.Sessions(context.Background(), cfg.ID, 1)
	if len(sessions) != 1 || sessions[0].ExitReason != logstore.ReasonCrashed {
		t.Fatalf("sessions = %+v, want one crashed session", sessions)
	}
}

func TestSpawnFailure(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "/no/such/binary-for-this-test")

	sink := &captureSink{}
	m.SetAuditSinks(sink)

	sub, cancel := m.Subscribe()
	defer cancel()

	err := m.StartService(cfg.ID)
	if err == nil {
		t.Fatal("expected spawn error")
	}

	rs, ok := m.ServiceStatus(cfg.ID)
	if !ok || rs.Status != StatusError {
		t.Fatalf("status = %+v, want error state", rs)
	}
	if rs.PID != nil {
		t.Fatalf("pid = %v for failed spawn, want nil", rs.PID)
	}

	select {
	case e := <-sub:
		if e.Type != event.TypeError || e.Err == "" {
			t.Fatalf("event = %+v, want error event", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error event published")
	}

	types := sink.types()
	if len(types) != 1 || types[0] != audit.EventSpawnFailure {
		t.Fatalf("audit events = %v, want [spawn_failure]", types)
	}

	// No session is opened when the spawn never happened.
	sessions, _ := m.logs.Sessions(context.Background(), cfg.ID, 10)
	if len(sessions) != 0 {
		t.Fatalf("sessions = %d, want 0", len(sessions))
	}
}

func TestRestartAfterExitOpensNewSession(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "echo once")

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("first start: %v", err)
	}
	waitForExit(t, sub, cfg.ID, 5*time.Second)
	waitUntil(t, 2*time.Second, func() bool {
		rs, _ := m.ServiceStatus(cfg.ID)
		return rs.Status == StatusStopped
	})

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("second start: %v", err)
	}
	waitForExit(t, sub, cfg.ID, 5*time.Second)

	waitUntil(t, 2*time.Second, func() bool {
		sessions, _ := m.logs.Sessions(context.Background(), cfg.ID, 10)
		if len(sessions) != 2 {
			return false
		}
		return sessions[0].StoppedAt != nil && sessions[1].StoppedAt != nil
	})
}

func TestEnvAndPortInjection(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	m.SetGlobalEnv([]string{"GLOBAL_FLAG=on"})
	ws := mustWorkspace(t, m)

	cfg, err := m.CreateService(ws.ID, ServiceInput{
		Name:    "env-probe",
		Command: `echo "$GREETING:$PORT:$GLOBAL_FLAG"`,
		Port:    18223,
		EnvVars: map[string]string{"GREETING": "yo"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, logEvs := waitForExit(t, sub, cfg.ID, 5*time.Second)

	want := "yo:18223:on"
	for _, e := range logEvs {
		for _, line := range e.Lines {
			if line == want {
				return
			}
		}
	}
	t.Fatalf("no log line %q in %+v", want, logEvs)
}

func TestStderrCaptured(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "echo oops >&2")

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, logEvs := waitForExit(t, sub, cfg.ID, 5*time.Second)

	var found bool
	for _, e := range logEvs {
		if e.Source == "stderr" {
			for _, line := range e.Lines {
				if line == "oops" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatalf("stderr line not captured: %+v", logEvs)
	}

	// stderr lines persist at the error level regardless of content.
	var entries []logstore.Entry
	waitUntil(t, 2*time.Second, func() bool {
		var err error
		entries, err = m.logs.ServiceLogs(context.Background(), cfg.ID, logstore.Filter{})
		return err == nil && len(entries) > 0
	})
	var leveled bool
	for _, e := range entries {
		if e.Message == "oops" && e.Level == logstore.LevelError {
			leveled = true
		}
	}
	if !leveled {
		t.Fatalf("entries = %+v, want oops at level error", entries)
	}
}

func TestCaptureMirrorsToFile(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	dir := t.TempDir()
	m.SetCaptureMirrors(logger.Config{File: logger.FileConfig{Dir: dir}})
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "echo mirrored && sleep 0.1")

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForExit(t, sub, cfg.ID, 5*time.Second)

	path := filepath.Join(dir, cfg.Name+".stdout.log")
	waitUntil(t, 2*time.Second, func() bool {
		b, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(b), "mirrored")
	})
}

func TestHealthChecksFollowLifecycle(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "sleep 5")

	fc := newFakeCoordinator()
	fc.add(health.Check{ID: "hc-on", ServiceID: cfg.ID, Enabled: true, Type: health.TypeHTTP, Target: "http://127.0.0.1:1/"})
	fc.add(health.Check{ID: "hc-off", ServiceID: cfg.ID, Enabled: false, Type: health.TypeTCP, Target: "127.0.0.1:1"})
	m.SetHealthCoordinator(fc)

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	started := fc.startedIDs()
	if len(started) != 1 || started[0] != "hc-on" {
		t.Fatalf("started checks = %v, want only the enabled one", started)
	}

	if err := m.StopService(cfg.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stop tears down every check for the service, enabled or not.
	waitUntil(t, 2*time.Second, func() bool {
		stopped := fc.stoppedIDs()
		return contains(stopped, "hc-on") && contains(stopped, "hc-off")
	})
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestAuditTrailForNormalRun(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	cfg := mustService(t, m, ws.ID, "echo done")

	sink := &captureSink{}
	m.SetAuditSinks(sink)

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForExit(t, sub, cfg.ID, 5*time.Second)

	waitUntil(t, 2*time.Second, func() bool { return len(sink.types()) >= 2 })
	types := sink.types()
	if types[0] != audit.EventStart || types[len(types)-1] != audit.EventExit {
		t.Fatalf("audit sequence = %v, want start..exit", types)
	}
}

func TestWorkspaceStartStop(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	ws := mustWorkspace(t, m)
	a := mustService(t, m, ws.ID, "sleep 5")
	b, err := m.CreateService(ws.ID, ServiceInput{Name: "worker", Command: "sleep 5"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.StartWorkspace(ws.ID); err != nil {
		t.Fatalf("start workspace: %v", err)
	}
	running := m.RunningServicesForWorkspace(ws.ID)
	var count int
	for _, rs := range running {
		if rs.Status == StatusRunning {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("running services = %d, want 2", count)
	}

	if err := m.StopWorkspace(ws.ID); err != nil {
		t.Fatalf("stop workspace: %v", err)
	}
	waitUntil(t, 5*time.Second, func() bool {
		for _, id := range []string{a.ID, b.ID} {
			if rs, ok := m.ServiceStatus(id); ok && rs.PID != nil {
				return false
			}
		}
		return true
	})
}

func TestKillEscalation(t *testing.T) {
	skipOnWindows(t)
	m := newTestManager(t)
	m.SetKillWait(200 * time.Millisecond)
	ws := mustWorkspace(t, m)
	// The trap swallows SIGTERM so only the escalation can end it.
	cfg := mustService(t, m, ws.ID, `trap "" TERM; sleep 30`)

	sub, cancel := m.Subscribe()
	defer cancel()

	if err := m.StartService(cfg.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	rs, _ := m.ServiceStatus(cfg.ID)
	pid := *rs.PID

	start := time.Now()
	if err := m.StopService(cfg.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitForExit(t, sub, cfg.ID, 10*time.Second)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("escalation took %v", elapsed)
	}
	waitUntil(t, 2*time.Second, func() bool { return !service.Alive(pid) })
}
