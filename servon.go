package servon

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/servonhq/servon/internal/audit"
	auditfactory "github.com/servonhq/servon/internal/audit/factory"
	cfg "github.com/servonhq/servon/internal/config"
	"github.com/servonhq/servon/internal/event"
	"github.com/servonhq/servon/internal/health"
	"github.com/servonhq/servon/internal/logger"
	"github.com/servonhq/servon/internal/logstore"
	logfactory "github.com/servonhq/servon/internal/logstore/factory"
	"github.com/servonhq/servon/internal/manager"
	"github.com/servonhq/servon/internal/metrics"
	"github.com/servonhq/servon/internal/retention"
	"github.com/servonhq/servon/internal/server"
	"github.com/servonhq/servon/internal/store"
	storefactory "github.com/servonhq/servon/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ServiceInput = manager.ServiceInput

type ServicePatch = store.ServicePatch

type ServiceConfig = store.ServiceConfig

type Workspace = store.Workspace

type RunningService = manager.RunningService

type StatusDetail = manager.ServiceStatusDetail

type Status = manager.Status

const (
	StatusRunning = manager.StatusRunning
	StatusStopped = manager.StatusStopped
	StatusError   = manager.StatusError
)

type Event = event.Event

type Check = health.Check

type Coordinator = health.Coordinator

type Poller = health.Poller

type Sweeper = retention.Sweeper

type AuditSink = audit.Sink

type CaptureConfig = logger.Config

type FileConfig = cfg.FileConfig

// Store persists workspace and service definitions plus run sessions.
type Store = store.Store

// LogStore persists captured output lines.
type LogStore = logstore.Store

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.

type Manager struct{ inner *manager.Manager }

func New(st Store, logs LogStore) *Manager {
	return &Manager{inner: manager.New(st, logs)}
}

func (m *Manager) SetGlobalEnv(kvs []string)            { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) SetKillWait(d time.Duration)          { m.inner.SetKillWait(d) }
func (m *Manager) SetCaptureMirrors(c CaptureConfig)    { m.inner.SetCaptureMirrors(c) }
func (m *Manager) SetAuditSinks(sinks ...AuditSink)     { m.inner.SetAuditSinks(sinks...) }
func (m *Manager) SetHealthCoordinator(c Coordinator)   { m.inner.SetHealthCoordinator(c) }
func (m *Manager) Subscribe() (<-chan Event, func())    { return m.inner.Subscribe() }
func (m *Manager) CreateWorkspace(name, rootPath string) (Workspace, error) {
	return m.inner.CreateWorkspace(name, rootPath)
}
func (m *Manager) Workspaces() ([]Workspace, error)        { return m.inner.Workspaces() }
func (m *Manager) Workspace(id string) (Workspace, bool, error) {
	return m.inner.Workspace(id)
}
func (m *Manager) DeleteWorkspace(id string) (bool, error) { return m.inner.DeleteWorkspace(id) }
func (m *Manager) CreateService(workspaceID string, in ServiceInput) (ServiceConfig, error) {
	return m.inner.CreateService(workspaceID, in)
}
func (m *Manager) Services(workspaceID string) ([]ServiceConfig, error) {
	return m.inner.Services(workspaceID)
}
func (m *Manager) Service(id string) (ServiceConfig, bool, error) { return m.inner.Service(id) }
func (m *Manager) UpdateService(id string, patch ServicePatch) (bool, error) {
	return m.inner.UpdateService(id, patch)
}
func (m *Manager) DeleteService(id string) (bool, error) { return m.inner.DeleteService(id) }
func (m *Manager) StartService(id string) error          { return m.inner.StartService(id) }
func (m *Manager) StopService(id string) error           { return m.inner.StopService(id) }
func (m *Manager) StartWorkspace(id string) error        { return m.inner.StartWorkspace(id) }
func (m *Manager) StopWorkspace(id string) error         { return m.inner.StopWorkspace(id) }
func (m *Manager) ServiceStatus(id string) (RunningService, bool) {
	return m.inner.ServiceStatus(id)
}
func (m *Manager) ServiceStatusDetail(id string) (StatusDetail, bool) {
	return m.inner.ServiceStatusDetail(id)
}
func (m *Manager) RunningServices() []RunningService { return m.inner.RunningServices() }
func (m *Manager) RunningServicesForWorkspace(workspaceID string) []RunningService {
	return m.inner.RunningServicesForWorkspace(workspaceID)
}
func (m *Manager) RunningPIDs() map[string]int { return m.inner.RunningPIDs() }
func (m *Manager) ServiceLogs(id string, maxLines int) []string {
	return m.inner.ServiceLogs(id, maxLines)
}
func (m *Manager) StopAll()  { m.inner.StopAll() }
func (m *Manager) Shutdown() { m.inner.Shutdown() }

// OpenStore opens the definition store for dsn and ensures its schema.
// Empty or file DSNs select SQLite; postgres:// selects PostgreSQL.
func OpenStore(dsn string) (Store, error) {
	st, err := storefactory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

// OpenLogStore opens the output log store for dsn and ensures its schema.
func OpenLogStore(dsn string) (LogStore, error) {
	logs, err := logfactory.NewFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := logs.EnsureSchema(context.Background()); err != nil {
		_ = logs.Close()
		return nil, err
	}
	return logs, nil
}

// NewAuditSink creates an audit sink from a DSN (sqlite path, postgres://,
// clickhouse:// or opensearch://).
func NewAuditSink(dsn string) (AuditSink, error) { return auditfactory.NewSinkFromDSN(dsn) }

// NewHealthPoller returns a poller that can be handed to
// Manager.SetHealthCoordinator.
func NewHealthPoller() *Poller { return health.NewPoller() }

// NewSweeper returns a retention sweeper deleting log entries older than
// days on the given cron schedule.
func NewSweeper(logs LogStore, days int, schedule string) *Sweeper {
	return retention.New(logs, days, schedule)
}

func LoadConfig(path string) (FileConfig, error) {
	return cfg.Load(path)
}

// NewHTTPHandler returns the REST + SSE API as a plain http.Handler so it
// can be mounted in any server or mux. Pass empty basePath to serve from
// the root.
func NewHTTPHandler(m *Manager, logs LogStore, basePath string) http.Handler {
	return server.NewRouter(m.inner, logs, basePath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the API using the given manager.
func NewHTTPServer(addr, basePath string, m *Manager, logs LogStore) (*http.Server, error) {
	return server.NewServer(addr, server.NewRouter(m.inner, logs, basePath))
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns the Prometheus scrape handler for the default
// registry, for mounting on /metrics.
func MetricsHandler() http.Handler { return metrics.Handler() }
