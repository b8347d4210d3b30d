package opshttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"tiller/internal/budget"
	"tiller/internal/logger"
	"tiller/internal/monitor"
	"tiller/internal/store"

	"github.com/gin-gonic/gin"
)

// Router exposes the operator query endpoints: invariant sweeps, execution
// audit trails, budget usage and the scan job table.
type Router struct {
	Executions store.ExecutionStore
	Jobs       store.JobStore
	Ledger     *budget.Ledger
	Monitor    *monitor.Monitor
}

func NewRouter(executions store.ExecutionStore, jobs store.JobStore, ledger *budget.Ledger, mon *monitor.Monitor) *Router {
	return &Router{Executions: executions, Jobs: jobs, Ledger: ledger, Monitor: mon}
}

// Register mounts the ops routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/invariants", r.handleInvariants)
	group.GET("/executions/:id", r.handleExecutionByID)
	group.GET("/executions/:id/events", r.handleExecutionEvents)
	group.GET("/stats/:userID", r.handleExecutionStats)
	group.GET("/budget/:userID", r.handleBudget)
	group.GET("/jobs", r.handleJobs)
}

// handleInvariants runs the safety checks on demand, same queries the
// periodic monitor runs.
func (r *Router) handleInvariants(c *gin.Context) {
	if r.Monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor not enabled"})
		return
	}
	violations, err := r.Monitor.CheckAll(c.Request.Context())
	if err != nil {
		logger.Errorf("[api] invariant sweep failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"clean":      len(violations) == 0,
		"violations": violations,
	})
}

func (r *Router) handleExecutionByID(c *gin.Context) {
	if r.Executions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution store unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execution id"})
		return
	}
	exec, ok, err := r.Executions.GetExecution(c.Request.Context(), id)
	if err != nil {
		logger.Errorf("[api] execution detail failed ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution": exec})
}

func (r *Router) handleExecutionEvents(c *gin.Context) {
	if r.Executions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution store unavailable"})
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	events, err := r.Executions.ListEvents(c.Request.Context(), id)
	if err != nil {
		logger.Errorf("[api] execution events failed ip=%s id=%s err=%v", c.ClientIP(), id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"execution_id": id, "events": events})
}

func (r *Router) handleExecutionStats(c *gin.Context) {
	if r.Executions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "execution store unavailable"})
		return
	}
	userID := strings.TrimSpace(c.Param("userID"))
	stats, err := r.Executions.ExecutionStats(c.Request.Context(), userID)
	if err != nil {
		logger.Errorf("[api] execution stats failed ip=%s user=%s err=%v", c.ClientIP(), userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// handleBudget reports trailing usage windows without any limit context; the
// limits live in the per-user policy, not the ledger.
func (r *Router) handleBudget(c *gin.Context) {
	if r.Ledger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "budget ledger unavailable"})
		return
	}
	userID := strings.TrimSpace(c.Param("userID"))
	daily, hourly, err := r.Ledger.Usage(c.Request.Context(), userID)
	if err != nil {
		logger.Errorf("[api] budget failed ip=%s user=%s err=%v", c.ClientIP(), userID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"daily_used":  daily,
		"hourly_used": hourly,
		"window_end":  time.Now().UTC(),
	})
}

func (r *Router) handleJobs(c *gin.Context) {
	if r.Jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job store unavailable"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	jobs, err := r.Jobs.ListJobs(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] jobs list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}
