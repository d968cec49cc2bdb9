package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
)

type cancelExecutorRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

// CancelExecutor stops and releases the container bound to a session.
// POST /api/v1/executor/cancel
func (h *Handler) CancelExecutor(c *gin.Context) {
	var req cancelExecutorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	if err := h.pool.CancelTask(c.Request.Context(), req.SessionID); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type deleteExecutorRequest struct {
	ContainerID string `json:"container_id" binding:"required"`
}

// DeleteExecutor force-removes a container by id, for orphan cleanup.
// POST /api/v1/executor/delete
func (h *Handler) DeleteExecutor(c *gin.Context) {
	var req deleteExecutorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	if err := h.pool.DeleteContainer(c.Request.Context(), req.ContainerID); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExecutorLoad reports the container pool's current utilization.
// GET /api/v1/executor/load
func (h *Handler) ExecutorLoad(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Stats())
}
