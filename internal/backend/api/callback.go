package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/backend/callback"
)

// Callback ingests a Manager-forwarded executor callback.
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
