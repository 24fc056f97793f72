package server

import (
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/servonhq/servon/internal/health"
	"github.com/servonhq/servon/internal/logstore"
	"github.com/servonhq/servon/internal/manager"
	"github.com/servonhq/servon/internal/metrics"
	"github.com/servonhq/servon/internal/retention"
)

// Router provides embeddable HTTP handlers for the dashboard API.
// Endpoints (all under {basePath}):
//
//	POST   /api/workspaces             create workspace
//	GET    /api/workspaces             list workspaces
//	GET    /api/workspaces/:id         one workspace
//	DELETE /api/workspaces/:id         delete workspace and its services
//	POST   /api/workspaces/:id/start   start every service of the workspace
//	POST   /api/workspaces/:id/stop    stop every running service of it
//	POST   /api/services               create service (body: workspaceId + definition)
//	GET    /api/services?workspace=    list services, optionally by workspace
//	GET    /api/services/:id           one service definition
//	PATCH  /api/services/:id           partial update
//	DELETE /api/services/:id           stop if running, then delete
//	POST   /api/services/:id/start     spawn the stored command
//	POST   /api/services/:id/stop      terminate the tracked process
//	GET    /api/services/:id/status    run-state snapshot plus resource usage
//	GET    /api/services/:id/checks    health check definitions and probe results
//	GET    /api/services/:id/logs      live ring buffer tail (?lines=)
//	GET    /api/services/:id/logs/history  persisted logs (?session=&level=&search=&limit=&offset=)
//	GET    /api/services/:id/logs/stats    persisted log totals
//	DELETE /api/services/:id/logs      drop all persisted logs of the service
//	GET    /api/services/:id/sessions  run history, most recent first (?limit=)
//	GET    /api/running?workspace=     tracked run snapshots
//	GET    /api/events?service=        lifecycle event stream (SSE)
//	GET    /api/logs/sessions/:sid         one session
//	GET    /api/logs/sessions/:sid/logs    entries of one session
//	DELETE /api/logs/sessions/:sid         drop one session
//	POST   /api/logs/purge?days=       age-based purge
//	GET    /healthz, GET /metrics      operational surface, never auth-gated
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr       *manager.Manager
	logs      logstore.Store
	checks    *health.Poller
	sweeper   *retention.Sweeper
	basePath  string
	authToken string
}

// NewRouter constructs a Router with a configurable basePath. Example
// basePath "/servon" results in /servon/api/..., /servon/healthz.
func NewRouter(mgr *manager.Manager, logs logstore.Store, basePath string) *Router {
	return &Router{mgr: mgr, logs: logs, basePath: sanitizeBase(basePath)}
}

// SetAuthToken gates the /api group behind a static bearer token. The token
// may be given plain or as a bcrypt hash of the expected value. Empty
// disables auth.
func (r *Router) SetAuthToken(token string) { r.authToken = token }

// SetHealthPoller exposes check definitions and probe results on
// /api/services/:id/checks.
func (r *Router) SetHealthPoller(p *health.Poller) { r.checks = p }

// SetSweeper routes /api/logs/purge without an explicit days parameter
// through the retention sweeper, so manual purges use the configured age
// and leave an audit trail.
func (r *Router) SetSweeper(s *retention.Sweeper) { r.sweeper = s }

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	root := g.Group(r.basePath)
	root.GET("/healthz", r.handleHealthz)
	root.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := root.Group("/api", bearerAuth(r.authToken))
	api.POST("/workspaces", r.handleCreateWorkspace)
	api.GET("/workspaces", r.handleListWorkspaces)
	api.GET("/workspaces/:id", r.handleGetWorkspace)
	api.DELETE("/workspaces/:id", r.handleDeleteWorkspace)
	api.POST("/workspaces/:id/start", r.handleStartWorkspace)
	api.POST("/workspaces/:id/stop", r.handleStopWorkspace)

	api.POST("/services", r.handleCreateService)
	api.GET("/services", r.handleListServices)
	api.GET("/services/:id", r.handleGetService)
	api.PATCH("/services/:id", r.handlePatchService)
	api.DELETE("/services/:id", r.handleDeleteService)
	api.POST("/services/:id/start", r.handleStartService)
	api.POST("/services/:id/stop", r.handleStopService)
	api.GET("/services/:id/status", r.handleServiceStatus)
	api.GET("/services/:id/checks", r.handleServiceChecks)
	api.GET("/services/:id/logs", r.handleServiceRing)
	api.DELETE("/services/:id/logs", r.handleDeleteServiceLogs)
	api.GET("/services/:id/logs/history", r.handleServiceHistory)
	api.GET("/services/:id/logs/stats", r.handleServiceLogStats)
	api.GET("/services/:id/sessions", r.handleServiceSessions)

	api.GET("/running", r.handleRunning)
	api.GET("/events", r.handleEvents)

	api.GET("/logs/sessions/:sid", r.handleSession)
	api.GET("/logs/sessions/:sid/logs", r.handleSessionLogs)
	api.DELETE("/logs/sessions/:sid", r.handleDeleteSession)
	api.POST("/logs/purge", r.handlePurge)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router. The
// returned server can be shut down by calling its Close or Shutdown.
func NewServer(addr string, r *Router) (*http.Server, error) {
	return newServer(addr, r, nil)
}

// NewServerTLS starts a standalone HTTPS server using the provided TLS
// configuration; tlsConf must carry a certificate source.
func NewServerTLS(addr string, r *Router, tlsConf *tls.Config) (*http.Server, error) {
	if tlsConf == nil {
		return nil, errors.New("nil tls config")
	}
	return newServer(addr, r, tlsConf)
}

func newServer(addr string, r *Router, tlsConf *tls.Config) (*http.Server, error) {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: it would cut long-lived /api/events streams.
		IdleTimeout: 60 * time.Second,
	}
	if tlsConf != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type removedResp struct {
	Removed int64 `json:"removed"`
}

// respondErr maps manager errors onto HTTP statuses: unknown ids to 404,
// start collisions to 409, everything else to 400.
func respondErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, manager.ErrServiceNotFound), errors.Is(err, manager.ErrWorkspaceNotFound):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, manager.ErrAlreadyRunning):
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	}
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
