package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
)

type createUserInputRequestRequest struct {
	SessionID        string          `json:"session_id" binding:"required"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ExpiresInSeconds int             `json:"expires_in_seconds"`
}

// CreateUserInputRequest proxies an executor's mid-run question to the
// Backend's internal-token-gated endpoint, spec.md §4.8: "the executor can
// request a user answer by calling the Manager (proxying to Backend's
// internal endpoint)". Unauthenticated like /callback — the executor has no
// internal token, only the Manager does.
// POST /api/v1/user-input-requests
func (h *Handler) CreateUserInputRequest(c *gin.Context) {
	var req createUserInputRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	uir, err := h.backend.CreateUserInputRequest(c.Request.Context(), req.SessionID, req.ToolName, req.ToolInput, req.ExpiresInSeconds)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, uir)
}

// GetUserInputRequest proxies the executor's 500ms poll for a question's
// answer to the Backend.
// GET /api/v1/user-input-requests/:id
func (h *Handler) GetUserInputRequest(c *gin.Context) {
	uir, err := h.backend.GetUserInputRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, uir)
}
