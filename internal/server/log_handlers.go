package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/servonhq/servon/internal/logstore"
	"github.com/servonhq/servon/internal/metrics"
)

type ringResp struct {
	ServiceID string   `json:"serviceId"`
	Lines     []string `json:"lines"`
}

// handleServiceRing tails the in-memory ring buffer of the tracked run.
// It answers instantly and returns no lines for services never started
// this boot; use /logs/history for persisted output.
func (r *Router) handleServiceRing(c *gin.Context) {
	n, err := queryInt(c, "lines", 0)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	id := c.Param("id")
	lines := r.mgr.ServiceLogs(id, n)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(c, http.StatusOK, ringResp{ServiceID: id, Lines: lines})
}

func (r *Router) handleServiceHistory(c *gin.Context) {
	f, err := logFilter(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	entries, err := r.logs.ServiceLogs(c.Request.Context(), c.Param("id"), f)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []logstore.Entry{}
	}
	writeJSON(c, http.StatusOK, entries)
}

func (r *Router) handleServiceLogStats(c *gin.Context) {
	st, err := r.logs.Stats(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleServiceSessions(c *gin.Context) {
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	sessions, err := r.logs.Sessions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if sessions == nil {
		sessions = []logstore.Session{}
	}
	writeJSON(c, http.StatusOK, sessions)
}

func (r *Router) handleSession(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	s, found, err := r.logs.Session(c.Request.Context(), sid)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "session not found"})
		return
	}
	writeJSON(c, http.StatusOK, s)
}

func (r *Router) handleSessionLogs(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	f, err := logFilter(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	entries, err := r.logs.Logs(c.Request.Context(), sid, f)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []logstore.Entry{}
	}
	writeJSON(c, http.StatusOK, entries)
}

// handleDeleteSession drops one session and its entries. Unknown ids are a
// no-op, so the delete is idempotent.
func (r *Router) handleDeleteSession(c *gin.Context) {
	sid, ok := sessionID(c)
	if !ok {
		return
	}
	if err := r.logs.DeleteSession(c.Request.Context(), sid); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDeleteServiceLogs(c *gin.Context) {
	removed, err := r.logs.DeleteServiceLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, removedResp{Removed: removed})
}

// handlePurge removes sessions older than ?days=. Without the parameter the
// request is routed through the retention sweeper when one is attached, so
// it uses the configured age and leaves an audit event.
func (r *Router) handlePurge(c *gin.Context) {
	days, err := queryInt(c, "days", 0)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if days <= 0 {
		if r.sweeper == nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "days must be positive"})
			return
		}
		removed, err := r.sweeper.Sweep()
		if err != nil {
			writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, removedResp{Removed: removed})
		return
	}
	removed, err := r.logs.DeleteOldLogs(c.Request.Context(), days)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	metrics.AddPurgedLogs(removed)
	writeJSON(c, http.StatusOK, removedResp{Removed: removed})
}

// sessionID parses the :sid path parameter, writing the 400 response itself
// when the value is not an integer.
func sessionID(c *gin.Context) (int64, bool) {
	sid, err := strconv.ParseInt(c.Param("sid"), 10, 64)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "session id must be an integer"})
		return 0, false
	}
	return sid, true
}
