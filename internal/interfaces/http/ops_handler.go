package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/halcyonai/halcyon/gateway/internal/infrastructure/redisstore"
	apperrors "github.com/halcyonai/halcyon/gateway/pkg/errors"
)

// health handles GET /health with a counter snapshot and the effective
// gateway settings.
func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.cfg.Version,
		"metrics": h.deps.Monitor.GetStats(),
		"rate_limit": gin.H{
			"per_min": h.cfg.RatePerMin,
			"burst":   h.cfg.RateBurst,
		},
		"timeout": gin.H{
			"pipeline_seconds": h.cfg.PipelineTimeout.Seconds(),
		},
		"task_worker": gin.H{
			"enabled": h.cfg.WorkerEnabled,
		},
	})
}

// enqueueTask handles POST /tasks/enqueue.
func (h *handlers) enqueueTask(c *gin.Context) {
	if h.deps.Queue == nil {
		writeEngineError(c, apperrors.NewNoProviderError("task queue not configured"))
		return
	}
	var req struct {
		Payload map[string]interface{} `json:"payload"`
		Depth   int                    `json:"depth"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeEngineError(c, apperrors.NewInvalidRequestError(err.Error()))
		return
	}
	if len(req.Payload) == 0 {
		writeEngineError(c, apperrors.NewInvalidRequestError("payload is required"))
		return
	}

	task := redisstore.NewTask(req.Payload, req.Depth)
	if err := h.deps.Queue.Enqueue(c.Request.Context(), task); err != nil {
		writeEngineError(c, apperrors.NewInternalErrorWithCause("enqueue failed", err))
		return
	}
	h.deps.Monitor.IncTaskEnqueued()
	c.JSON(http.StatusOK, gin.H{"status": "enqueued", "task_id": task.ID})
}

// dlqEntries handles GET /tasks/dlq?limit=N.
func (h *handlers) dlqEntries(c *gin.Context) {
	if h.deps.Queue == nil {
		writeEngineError(c, apperrors.NewNoProviderError("task queue not configured"))
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	entries, err := h.deps.Queue.DLQEntries(c.Request.Context(), limit)
	if err != nil {
		writeEngineError(c, apperrors.NewInternalErrorWithCause("dlq read failed", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}
