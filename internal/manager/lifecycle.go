package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/servonhq/servon/internal/audit"
	"github.com/servonhq/servon/internal/event"
	"github.com/servonhq/servon/internal/logger"
	"github.com/servonhq/servon/internal/logstore"
	"github.com/servonhq/servon/internal/metrics"
	"github.com/servonhq/servon/internal/service"
	"github.com/servonhq/servon/internal/store"
)

const captureChunkSize = 32 * 1024

// StartService spawns the stored command for id. It returns
// ErrAlreadyRunning when a tracked run is still alive; a prior non-running
// entry is discarded. Spawn failures are recorded as status error and an
// error event, and also returned to the caller.
func (m *Manager) StartService(id string) error {
	ctx := context.Background()
	cfg, ok, err := m.st.Service(ctx, id)
	if err != nil {
		return fmt.Errorf("load service %s: %w", id, err)
	}
	if !ok {
		return ErrServiceNotFound
	}

	sl := m.slot(id)
	sl.mu.Lock()
	if cur := sl.cur; cur != nil && cur.status == StatusRunning && cur.pid != nil && service.Alive(*cur.pid) {
		sl.mu.Unlock()
		return ErrAlreadyRunning
	}

	cmd := service.BuildCommand(cfg.Command)
	if cfg.RepoPath != "" {
		cmd.Dir = cfg.RepoPath
	}
	cmd.Env = m.mergedEnvFor(cfg)
	service.ConfigureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return m.failSpawn(sl, cfg, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return m.failSpawn(sl, cfg, err)
	}
	if err := cmd.Start(); err != nil {
		return m.failSpawn(sl, cfg, err)
	}
	pid := cmd.Process.Pid

	var sessionID int64
	if sess, err := m.logs.CreateSession(ctx, id); err != nil {
		slog.Warn("log session open failed, capture will not persist",
			"service", id, "error", err)
	} else {
		sessionID = sess.ID
	}

	rt := &run{
		serviceID:   id,
		workspaceID: cfg.WorkspaceID,
		name:        cfg.Name,
		cmd:         cmd,
		pid:         &pid,
		status:      StatusRunning,
		startedAt:   time.Now().UTC(),
		sessionID:   sessionID,
		ring:        service.NewRing(service.DefaultRingSize),
	}
	sl.cur = rt

	outW, errW, _ := m.captureConfig().ServiceWriters(cfg.Name)
	rt.mirrorOut, rt.mirrorErr = outW, errW

	rt.pumps.Add(2)
	go m.pump(rt, stdout, "stdout", outW)
	go m.pump(rt, stderr, "stderr", errW)
	go m.awaitExit(sl, rt)

	checks := m.coordinator()
	for _, c := range checks.ChecksForService(id) {
		if c.Enabled {
			if err := checks.StartCheck(c); err != nil {
				slog.Warn("health check start failed", "service", id, "check", c.ID, "error", err)
			}
		}
	}
	sl.mu.Unlock()

	metrics.IncStart(id)
	metrics.RecordStateTransition(id, string(StatusStopped), string(StatusRunning))
	m.updateRunningGauge(cfg.WorkspaceID)
	m.sendAudit(audit.Event{
		Type:        audit.EventStart,
		OccurredAt:  time.Now().UTC(),
		ServiceID:   id,
		WorkspaceID: cfg.WorkspaceID,
		PID:         pid,
	})
	slog.Info("service started", "service", id, "name", cfg.Name, "pid", pid)
	return nil
}

// failSpawn records a failed spawn as a tracked error state and publishes
// the error event. Called with sl.mu held; releases it.
func (m *Manager) failSpawn(sl *slot, cfg store.ServiceConfig, spawnErr error) error {
	now := time.Now().UTC()
	sl.cur = &run{
		serviceID:   cfg.ID,
		workspaceID: cfg.WorkspaceID,
		name:        cfg.Name,
		status:      StatusError,
		startedAt:   now,
		stoppedAt:   &now,
		ring:        service.NewRing(service.DefaultRingSize),
	}
	sl.mu.Unlock()

	metrics.IncSpawnFailure(cfg.ID)
	metrics.RecordStateTransition(cfg.ID, string(StatusStopped), string(StatusError))
	m.updateRunningGauge(cfg.WorkspaceID)
	m.bus.Publish(event.Error(cfg.ID, spawnErr))
	m.sendAudit(audit.Event{
		Type:        audit.EventSpawnFailure,
		OccurredAt:  now,
		ServiceID:   cfg.ID,
		WorkspaceID: cfg.WorkspaceID,
		Detail:      spawnErr.Error(),
	})
	slog.Error("service spawn failed", "service", cfg.ID, "name", cfg.Name, "error", spawnErr)
	return spawnErr
}

// StopService signals the process group with SIGTERM and schedules a SIGKILL
// escalation. It returns nil without a live process and never waits for the
// exit; the exit handler remains the sole authority for exit code and reason.
func (m *Manager) StopService(id string) error {
	sl := m.slotIfExists(id)
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	rt := sl.cur
	if rt == nil || rt.status != StatusRunning || rt.pid == nil || !service.Alive(*rt.pid) {
		sl.mu.Unlock()
		return nil
	}
	pid := *rt.pid
	if err := service.TerminateTree(pid, syscall.SIGTERM); err != nil {
		sl.mu.Unlock()
		return fmt.Errorf("signal service %s (pid %d): %w", id, pid, err)
	}
	rt.stopRequested = true
	rt.killTimer = time.AfterFunc(m.killWaitDur(), func() {
		_ = service.TerminateTree(pid, syscall.SIGKILL)
	})
	// Optimistic: the exit handler confirms with code and reason.
	rt.status = StatusStopped
	workspaceID := rt.workspaceID
	sl.mu.Unlock()

	checks := m.coordinator()
	for _, c := range checks.ChecksForService(id) {
		checks.StopCheck(c.ID)
	}

	metrics.IncStop(id)
	metrics.RecordStateTransition(id, string(StatusRunning), string(StatusStopped))
	m.updateRunningGauge(workspaceID)
	m.sendAudit(audit.Event{
		Type:        audit.EventStop,
		OccurredAt:  time.Now().UTC(),
		ServiceID:   id,
		WorkspaceID: workspaceID,
		PID:         pid,
	})
	return nil
}

// pump drains one output stream: mirrors raw bytes to the rotating file,
// splits complete lines and hands them to deliverLines. The trailing
// unterminated line is flushed when the stream closes.
func (m *Manager) pump(rt *run, r io.Reader, source string, mirror io.WriteCloser) {
	defer rt.pumps.Done()
	if mirror != nil {
		defer func() { _ = mirror.Close() }()
	}
	buf := make([]byte, captureChunkSize)
	var carry string
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if mirror != nil {
				_, _ = mirror.Write(buf[:n])
			}
			carry = m.deliverChunk(rt, source, carry+string(buf[:n]))
		}
		if err != nil {
			if carry != "" {
				m.deliverLines(rt, source, []string{carry})
			}
			return
		}
	}
}

// deliverChunk splits buffered data on newlines, delivers the complete lines
// and returns the unterminated remainder.
func (m *Manager) deliverChunk(rt *run, source, data string) string {
	lines := strings.Split(data, "\n")
	carry := lines[len(lines)-1]
	lines = lines[:len(lines)-1]
	if len(lines) > 0 {
		m.deliverLines(rt, source, lines)
	}
	return carry
}

// deliverLines is the capture fan-out for one chunk: ring append, one
// batched durable write, metrics, one log event. Store errors must not stall
// the capture path, so they are logged and dropped.
func (m *Manager) deliverLines(rt *run, source string, raw []string) {
	msgs := make([]string, 0, len(raw))
	entries := make([]logstore.Line, 0, len(raw))
	for _, ln := range raw {
		ln = service.StripANSI(strings.TrimSuffix(ln, "\r"))
		msgs = append(msgs, ln)
		entry := logstore.Line{Message: ln}
		if source == "stderr" {
			entry.Level = logstore.LevelError
		}
		entries = append(entries, entry)
	}

	rt.ringMu.Lock()
	rt.ring.Append(msgs...)
	rt.ringMu.Unlock()

	if rt.sessionID != 0 {
		start := time.Now()
		if err := m.logs.WriteLogs(context.Background(), rt.sessionID, rt.serviceID, entries); err != nil {
			slog.Warn("log write failed", "service", rt.serviceID, "session", rt.sessionID, "error", err)
		} else {
			metrics.ObserveLogWrite(time.Since(start).Seconds())
		}
	}
	metrics.AddCapturedLines(rt.serviceID, source, len(msgs))
	m.bus.Publish(event.Log(rt.serviceID, source, msgs))
}

// awaitExit blocks until the process exits, then finalizes the run: session
// close, check teardown, state update, exit event. Only the current
// generation's state is mutated, so an exit racing a restart cannot corrupt
// the replacement record.
func (m *Manager) awaitExit(sl *slot, rt *run) {
	rt.pumps.Wait()
	waitErr := rt.cmd.Wait()

	code, reason := classifyExit(waitErr)
	now := time.Now().UTC()

	sl.mu.Lock()
	if rt.killTimer != nil {
		rt.killTimer.Stop()
		rt.killTimer = nil
	}
	status := StatusError
	if (code != nil && *code == 0) || rt.stopRequested {
		status = StatusStopped
	}
	var pid int
	if rt.pid != nil {
		pid = *rt.pid
	}
	own := sl.cur == rt
	var prev Status
	if own {
		prev = rt.status
		rt.status = status
		rt.exitCode = code
		rt.stoppedAt = &now
		rt.pid = nil
	}
	sl.mu.Unlock()

	if rt.sessionID != 0 {
		if _, err := m.logs.EndSession(context.Background(), rt.sessionID, code, reason); err != nil {
			slog.Warn("log session close failed", "service", rt.serviceID, "session", rt.sessionID, "error", err)
		}
	}

	// Checks belong to the current generation; a superseded exit handler
	// must not tear down its replacement's checks.
	if own {
		checks := m.coordinator()
		for _, c := range checks.ChecksForService(rt.serviceID) {
			checks.StopCheck(c.ID)
		}
		if prev != status {
			metrics.RecordStateTransition(rt.serviceID, string(prev), string(status))
		}
		m.updateRunningGauge(rt.workspaceID)
	}

	m.bus.Publish(event.Exit(rt.serviceID, code))
	m.sendAudit(audit.Event{
		Type:        audit.EventExit,
		OccurredAt:  now,
		ServiceID:   rt.serviceID,
		WorkspaceID: rt.workspaceID,
		PID:         pid,
		ExitCode:    code,
		Detail:      string(reason),
	})
	slog.Info("service exited", "service", rt.serviceID, "name", rt.name, "reason", reason)
}

// classifyExit maps a cmd.Wait result to an exit code and session reason:
// nil → 0/stopped, signal termination → no code/killed, anything else →
// crashed.
func classifyExit(waitErr error) (*int, logstore.ExitReason) {
	if waitErr == nil {
		zero := 0
		return &zero, logstore.ReasonStopped
	}
	var ee *exec.ExitError
	if errors.As(waitErr, &ee) {
		if c := ee.ExitCode(); c >= 0 {
			return &c, logstore.ReasonCrashed
		}
		return nil, logstore.ReasonKilled
	}
	return nil, logstore.ReasonCrashed
}

func (m *Manager) mergedEnvFor(cfg store.ServiceConfig) []string {
	per := cfg.EnvVars
	if cfg.Port > 0 {
		merged := make(map[string]string, len(per)+1)
		for k, v := range per {
			merged[k] = v
		}
		merged["PORT"] = strconv.Itoa(cfg.Port)
		per = merged
	}
	m.mu.RLock()
	e := m.envM
	m.mu.RUnlock()
	return e.Merge(per)
}

func (m *Manager) captureConfig() logger.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.capture
}

func (m *Manager) killWaitDur() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.killWait
}
