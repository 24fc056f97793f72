package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/servonhq/servon/internal/health"
	"github.com/servonhq/servon/internal/manager"
	"github.com/servonhq/servon/internal/store"
)

type serviceRequest struct {
	WorkspaceID string            `json:"workspaceId"`
	Name        string            `json:"name"`
	RepoPath    string            `json:"repoPath"`
	Command     string            `json:"command"`
	Port        int               `json:"port"`
	EnvVars     map[string]string `json:"envVars"`
}

func (r *Router) handleCreateService(c *gin.Context) {
	var req serviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.WorkspaceID == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "workspaceId required"})
		return
	}
	if !isSafeName(req.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if !isSafeAbsPath(req.RepoPath) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid repoPath: must be absolute path without traversal"})
		return
	}
	cfg, err := r.mgr.CreateService(req.WorkspaceID, manager.ServiceInput{
		Name:     req.Name,
		RepoPath: req.RepoPath,
		Command:  req.Command,
		Port:     req.Port,
		EnvVars:  req.EnvVars,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, cfg)
}

func (r *Router) handleListServices(c *gin.Context) {
	svcs, err := r.mgr.Services(c.Query("workspace"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if svcs == nil {
		svcs = []store.ServiceConfig{}
	}
	writeJSON(c, http.StatusOK, svcs)
}

func (r *Router) handleGetService(c *gin.Context) {
	cfg, ok, err := r.mgr.Service(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrServiceNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, cfg)
}

func (r *Router) handlePatchService(c *gin.Context) {
	var patch store.ServicePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if patch.Empty() {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "patch sets no fields"})
		return
	}
	if patch.Name != nil && !isSafeName(*patch.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if patch.RepoPath != nil && !isSafeAbsPath(*patch.RepoPath) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid repoPath: must be absolute path without traversal"})
		return
	}
	if patch.Port != nil && (*patch.Port < 0 || *patch.Port > 65535) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "port out of range"})
		return
	}
	id := c.Param("id")
	ok, err := r.mgr.UpdateService(id, patch)
	if err != nil {
		respondErr(c, err)
		return
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrServiceNotFound.Error()})
		return
	}
	cfg, _, err := r.mgr.Service(id)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, cfg)
}

func (r *Router) handleDeleteService(c *gin.Context) {
	ok, err := r.mgr.DeleteService(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrServiceNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStartService(c *gin.Context) {
	id := c.Param("id")
	if err := r.mgr.StartService(id); err != nil {
		respondErr(c, err)
		return
	}
	rs, _ := r.mgr.ServiceStatus(id)
	writeJSON(c, http.StatusOK, rs)
}

func (r *Router) handleStopService(c *gin.Context) {
	id := c.Param("id")
	if !r.serviceExists(c, id) {
		return
	}
	if err := r.mgr.StopService(id); err != nil {
		respondErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleServiceStatus reports the tracked run snapshot. A stored service
// that was never started this boot gets a synthetic stopped snapshot.
func (r *Router) handleServiceStatus(c *gin.Context) {
	id := c.Param("id")
	det, ok := r.mgr.ServiceStatusDetail(id)
	if !ok {
		cfg, found, err := r.mgr.Service(id)
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		if !found {
			writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrServiceNotFound.Error()})
			return
		}
		det = manager.ServiceStatusDetail{RunningService: manager.RunningService{
			ServiceID:   cfg.ID,
			WorkspaceID: cfg.WorkspaceID,
			Name:        cfg.Name,
			Status:      manager.StatusStopped,
		}}
	}
	writeJSON(c, http.StatusOK, det)
}

type checksResp struct {
	Checks   []health.Check  `json:"checks"`
	Statuses []health.Status `json:"statuses"`
}

func (r *Router) handleServiceChecks(c *gin.Context) {
	resp := checksResp{Checks: []health.Check{}, Statuses: []health.Status{}}
	if r.checks != nil {
		id := c.Param("id")
		if defs := r.checks.ChecksForService(id); defs != nil {
			resp.Checks = defs
		}
		if sts := r.checks.Statuses(id); sts != nil {
			resp.Statuses = sts
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleRunning(c *gin.Context) {
	var running []manager.RunningService
	if ws := c.Query("workspace"); ws != "" {
		running = r.mgr.RunningServicesForWorkspace(ws)
	} else {
		running = r.mgr.RunningServices()
	}
	if running == nil {
		running = []manager.RunningService{}
	}
	writeJSON(c, http.StatusOK, running)
}

// serviceExists writes the error response and returns false when id does not
// name a stored service.
func (r *Router) serviceExists(c *gin.Context, id string) bool {
	_, ok, err := r.mgr.Service(id)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return false
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrServiceNotFound.Error()})
		return false
	}
	return true
}
