package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/manager/callback"
)

// Callback ingests a progress update an Executor posts mid-task.
// POST /api/v1/callback
func (h *Handler) Callback(c *gin.Context) {
	var req callback.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}

	resp, err := h.callbacks.Process(c.Request.Context(), req)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
