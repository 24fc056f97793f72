package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/servonhq/servon/internal/manager"
	"github.com/servonhq/servon/internal/store"
)

type workspaceRequest struct {
	Name     string `json:"name"`
	RootPath string `json:"rootPath"`
}

func (r *Router) handleCreateWorkspace(c *gin.Context) {
	var req workspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if !isSafeAbsPath(req.RootPath) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid rootPath: must be absolute path without traversal"})
		return
	}
	ws, err := r.mgr.CreateWorkspace(req.Name, req.RootPath)
	if err != nil {
		respondErr(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, ws)
}

func (r *Router) handleListWorkspaces(c *gin.Context) {
	wss, err := r.mgr.Workspaces()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if wss == nil {
		wss = []store.Workspace{}
	}
	writeJSON(c, http.StatusOK, wss)
}

func (r *Router) handleGetWorkspace(c *gin.Context) {
	ws, ok, err := r.mgr.Workspace(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrWorkspaceNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, ws)
}

func (r *Router) handleDeleteWorkspace(c *gin.Context) {
	ok, err := r.mgr.DeleteWorkspace(c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrWorkspaceNotFound.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStartWorkspace(c *gin.Context) {
	id := c.Param("id")
	if !r.workspaceExists(c, id) {
		return
	}
	if err := r.mgr.StartWorkspace(id); err != nil {
		respondErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopWorkspace(c *gin.Context) {
	id := c.Param("id")
	if !r.workspaceExists(c, id) {
		return
	}
	if err := r.mgr.StopWorkspace(id); err != nil {
		respondErr(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// workspaceExists writes the error response and returns false when id does
// not name a stored workspace.
func (r *Router) workspaceExists(c *gin.Context, id string) bool {
	_, ok, err := r.mgr.Workspace(id)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return false
	}
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: manager.ErrWorkspaceNotFound.Error()})
		return false
	}
	return true
}
