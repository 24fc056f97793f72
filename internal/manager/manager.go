package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/servonhq/servon/internal/audit"
	"github.com/servonhq/servon/internal/env"
	"github.com/servonhq/servon/internal/event"
	"github.com/servonhq/servon/internal/health"
	"github.com/servonhq/servon/internal/logger"
	"github.com/servonhq/servon/internal/logstore"
	"github.com/servonhq/servon/internal/metrics"
	"github.com/servonhq/servon/internal/store"
)

// DefaultKillWait is how long StopService waits after SIGTERM before
// escalating to SIGKILL.
const DefaultKillWait = 5 * time.Second

// Manager owns the authoritative in-memory run-state of every service it
// has started: it spawns and signals process trees, routes captured output
// to the log store, drives health checks and publishes lifecycle events.
type Manager struct {
	mu      sync.RWMutex
	slots   map[string]*slot
	sinks   []audit.Sink
	capture logger.Config

	st     store.Store
	logs   logstore.Store
	checks health.Coordinator
	bus    *event.Bus
	envM   *env.Env

	killWait time.Duration
}

// New creates a manager backed by the given configuration and log stores.
// Health checks default to a no-op coordinator.
func New(st store.Store, logs logstore.Store) *Manager {
	return &Manager{
		slots:    make(map[string]*slot),
		st:       st,
		logs:     logs,
		checks:   health.Nop{},
		bus:      event.NewBus(event.DefaultBuffer),
		envM:     env.New(),
		killWait: DefaultKillWait,
	}
}

// SetHealthCoordinator swaps the health check coordinator. Passing nil
// restores the no-op coordinator.
func (m *Manager) SetHealthCoordinator(c health.Coordinator) {
	m.mu.Lock()
	if c == nil {
		c = health.Nop{}
	}
	m.checks = c
	m.mu.Unlock()
}

// SetAuditSinks configures lifecycle audit sinks (sqlite, postgres,
// clickhouse, opensearch). Passing none clears the list.
func (m *Manager) SetAuditSinks(sinks ...audit.Sink) {
	m.mu.Lock()
	m.sinks = append([]audit.Sink(nil), sinks...)
	m.mu.Unlock()
}

// SetGlobalEnv sets environment variables applied to every spawned service.
// kvs must be in the form "KEY=VALUE".
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range kvs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m.envM.Set(kv[:i], kv[i+1:])
				break
			}
		}
	}
}

// SetEnv replaces the manager's environment merger.
func (m *Manager) SetEnv(e *env.Env) {
	if e == nil {
		e = env.New()
	}
	m.mu.Lock()
	m.envM = e
	m.mu.Unlock()
}

// SetCaptureMirrors configures rotating on-disk mirrors of captured output.
func (m *Manager) SetCaptureMirrors(cfg logger.Config) {
	m.mu.Lock()
	m.capture = cfg
	m.mu.Unlock()
}

// SetKillWait overrides the SIGTERM-to-SIGKILL escalation delay.
func (m *Manager) SetKillWait(d time.Duration) {
	if d <= 0 {
		d = DefaultKillWait
	}
	m.mu.Lock()
	m.killWait = d
	m.mu.Unlock()
}

// Subscribe attaches a consumer to the lifecycle event stream. The returned
// cancel must be called to release the subscription.
func (m *Manager) Subscribe() (<-chan event.Event, func()) {
	return m.bus.Subscribe()
}

// CreateService validates the owning workspace, assigns a uuid and persists
// the definition.
func (m *Manager) CreateService(workspaceID string, in ServiceInput) (store.ServiceConfig, error) {
	if err := in.validate(); err != nil {
		return store.ServiceConfig{}, err
	}
	ctx := context.Background()
	_, ok, err := m.st.Workspace(ctx, workspaceID)
	if err != nil {
		return store.ServiceConfig{}, fmt.Errorf("lookup workspace %s: %w", workspaceID, err)
	}
	if !ok {
		return store.ServiceConfig{}, ErrWorkspaceNotFound
	}

	now := time.Now().UTC()
	cfg := store.ServiceConfig{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		Name:        in.Name,
		RepoPath:    in.RepoPath,
		Command:     in.Command,
		Port:        in.Port,
		EnvVars:     in.EnvVars,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.st.CreateService(ctx, cfg); err != nil {
		return store.ServiceConfig{}, fmt.Errorf("create service %s: %w", in.Name, err)
	}
	return cfg, nil
}

// UpdateService applies a partial update. It reports false when the patch
// sets nothing or the id is unknown.
func (m *Manager) UpdateService(id string, patch store.ServicePatch) (bool, error) {
	return m.st.UpdateService(context.Background(), id, patch)
}

// DeleteService stops the service if it is running (best-effort) and
// removes its definition and tracked state. False when the id is unknown.
func (m *Manager) DeleteService(id string) (bool, error) {
	_ = m.StopService(id)

	m.mu.Lock()
	delete(m.slots, id)
	m.mu.Unlock()

	return m.st.DeleteService(context.Background(), id)
}

// Service returns one stored definition.
func (m *Manager) Service(id string) (store.ServiceConfig, bool, error) {
	return m.st.Service(context.Background(), id)
}

// Services lists stored definitions; empty workspaceID lists all.
func (m *Manager) Services(workspaceID string) ([]store.ServiceConfig, error) {
	return m.st.Services(context.Background(), workspaceID)
}

// CreateWorkspace persists a new workspace, assigning a uuid when the caller
// gives none.
func (m *Manager) CreateWorkspace(name, rootPath string) (store.Workspace, error) {
	if name == "" {
		return store.Workspace{}, fmt.Errorf("workspace name is required")
	}
	ws := store.Workspace{
		ID:        uuid.NewString(),
		Name:      name,
		RootPath:  rootPath,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.st.CreateWorkspace(context.Background(), ws); err != nil {
		return store.Workspace{}, fmt.Errorf("create workspace %s: %w", name, err)
	}
	return ws, nil
}

// Workspaces lists all workspaces, oldest first.
func (m *Manager) Workspaces() ([]store.Workspace, error) {
	return m.st.Workspaces(context.Background())
}

// Workspace returns one workspace by id.
func (m *Manager) Workspace(id string) (store.Workspace, bool, error) {
	return m.st.Workspace(context.Background(), id)
}

// DeleteWorkspace stops every service of the workspace (best-effort), then
// removes the workspace and its services.
func (m *Manager) DeleteWorkspace(id string) (bool, error) {
	svcs, err := m.st.Services(context.Background(), id)
	if err != nil {
		return false, err
	}
	for _, svc := range svcs {
		_ = m.StopService(svc.ID)
		m.mu.Lock()
		delete(m.slots, svc.ID)
		m.mu.Unlock()
	}
	return m.st.DeleteWorkspace(context.Background(), id)
}

// ServiceStatus returns a snapshot of the tracked run for id; ok is false
// when the service was never started since process start.
func (m *Manager) ServiceStatus(id string) (RunningService, bool) {
	sl := m.slotIfExists(id)
	if sl == nil {
		return RunningService{}, false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.cur == nil {
		return RunningService{}, false
	}
	return sl.cur.snapshot(), true
}

// ServiceStatusDetail adds a live resource usage sample to the snapshot.
func (m *Manager) ServiceStatusDetail(id string) (ServiceStatusDetail, bool) {
	rs, ok := m.ServiceStatus(id)
	if !ok {
		return ServiceStatusDetail{}, false
	}
	detail := ServiceStatusDetail{RunningService: rs}
	if rs.Status == StatusRunning && rs.PID != nil {
		if u, err := metrics.Sample(*rs.PID); err == nil {
			detail.Usage = &u
		}
	}
	return detail, true
}

// RunningServices returns snapshots of every tracked run, including entries
// retained after exit, ordered by service id.
func (m *Manager) RunningServices() []RunningService {
	return m.trackedServices("")
}

// RunningServicesForWorkspace filters tracked runs by owning workspace.
func (m *Manager) RunningServicesForWorkspace(workspaceID string) []RunningService {
	return m.trackedServices(workspaceID)
}

func (m *Manager) trackedServices(workspaceID string) []RunningService {
	m.mu.RLock()
	slots := make([]*slot, 0, len(m.slots))
	for _, sl := range m.slots {
		slots = append(slots, sl)
	}
	m.mu.RUnlock()

	out := make([]RunningService, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.cur != nil && (workspaceID == "" || sl.cur.workspaceID == workspaceID) {
			out = append(out, sl.cur.snapshot())
		}
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceID < out[j].ServiceID })
	return out
}

// RunningPIDs returns the live pid per running service id, for usage
// sampling.
func (m *Manager) RunningPIDs() map[string]int {
	m.mu.RLock()
	slots := make(map[string]*slot, len(m.slots))
	for id, sl := range m.slots {
		slots[id] = sl
	}
	m.mu.RUnlock()

	out := make(map[string]int)
	for id, sl := range slots {
		sl.mu.Lock()
		if sl.cur != nil && sl.cur.status == StatusRunning && sl.cur.pid != nil {
			out[id] = *sl.cur.pid
		}
		sl.mu.Unlock()
	}
	return out
}

// ServiceLogs returns the most recent captured lines from the in-memory
// ring, oldest first. maxLines <= 0 defaults to 100.
func (m *Manager) ServiceLogs(id string, maxLines int) []string {
	if maxLines <= 0 {
		maxLines = 100
	}
	sl := m.slotIfExists(id)
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	rt := sl.cur
	sl.mu.Unlock()
	if rt == nil {
		return nil
	}
	rt.ringMu.Lock()
	defer rt.ringMu.Unlock()
	return rt.ring.Tail(maxLines)
}

// StopAll signals every tracked process, ignoring individual errors. It
// does not wait for exits.
func (m *Manager) StopAll() {
	for _, id := range m.trackedIDs() {
		_ = m.StopService(id)
	}
}

// StartWorkspace starts every service of a workspace, best-effort. The
// first error is returned after all starts were attempted.
func (m *Manager) StartWorkspace(workspaceID string) error {
	svcs, err := m.st.Services(context.Background(), workspaceID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, svc := range svcs {
		if err := m.StartService(svc.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopWorkspace stops every service of a workspace, best-effort.
func (m *Manager) StopWorkspace(workspaceID string) error {
	svcs, err := m.st.Services(context.Background(), workspaceID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, svc := range svcs {
		if err := m.StopService(svc.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown signals every tracked process and closes the event bus. Like
// StopAll it does not wait for exits; exit handlers finish on their own.
func (m *Manager) Shutdown() {
	m.StopAll()
	m.bus.Close()
}

func (m *Manager) trackedIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	return ids
}

// slot returns the lifecycle slot for id, creating it when missing.
func (m *Manager) slot(id string) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl := m.slots[id]
	if sl == nil {
		sl = &slot{}
		m.slots[id] = sl
	}
	return sl
}

func (m *Manager) slotIfExists(id string) *slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slots[id]
}

func (m *Manager) coordinator() health.Coordinator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checks
}

func (m *Manager) auditSinks() []audit.Sink {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]audit.Sink(nil), m.sinks...)
}

// sendAudit fans an event out to every sink, swallowing sink errors.
func (m *Manager) sendAudit(e audit.Event) {
	sinks := m.auditSinks()
	if len(sinks) == 0 {
		return
	}
	ctx := context.Background()
	for _, s := range sinks {
		_ = s.Send(ctx, e)
	}
}

// updateRunningGauge recounts running services of one workspace.
func (m *Manager) updateRunningGauge(workspaceID string) {
	n := 0
	for _, rs := range m.trackedServices(workspaceID) {
		if rs.Status == StatusRunning {
			n++
		}
	}
	metrics.SetRunning(workspaceID, n)
}
