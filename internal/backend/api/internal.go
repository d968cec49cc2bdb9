package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

// EnvVarsMap resolves a user's env vars as a flat key/value map, consumed by
// the Manager's config resolver for `${env:VAR}` substitution.
// GET /api/v1/internal/env-vars/map?user_id=
func (h *Handler) EnvVarsMap(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest("user_id is required"))
		return
	}
	out, err := h.repo.EnvVarsMap(c.Request.Context(), userID)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ResolveSlashCommands resolves a user's slash commands as a name -> markdown
// body map, staged by the Manager into `.claude_data/commands/` before dispatch.
// GET /api/v1/internal/slash-commands/resolve?user_id=
func (h *Handler) ResolveSlashCommands(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest("user_id is required"))
		return
	}
	out, err := h.repo.ResolveSlashCommandsMap(c.Request.Context(), userID)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type createUserInputRequestRequest struct {
	SessionID        string          `json:"session_id" binding:"required"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input"`
	ExpiresInSeconds int             `json:"expires_in_seconds"`
}

// CreateUserInputRequest persists a mid-run question the executor is
// blocking on, internal-token authenticated.
// POST /api/v1/internal/user-input-requests
func (h *Handler) CreateUserInputRequest(c *gin.Context) {
	var req createUserInputRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	ttl := req.ExpiresInSeconds
	if ttl <= 0 {
		ttl = 300
	}

	uir := &model.UserInputRequest{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		ToolName:  req.ToolName,
		ToolInput: req.ToolInput,
		ExpiresAt: time.Now().UTC().Add(time.Duration(ttl) * time.Second),
	}
	if err := h.repo.CreateUserInputRequest(c.Request.Context(), uir); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, uir)
}

// MarkSessionRunning transitions a session to running — the Manager's
// dispatcher step 6, distinct from the run-level "start" transition (step 8).
// POST /api/v1/internal/sessions/:id/running
func (h *Handler) MarkSessionRunning(c *gin.Context) {
	if err := h.repo.MarkSessionRunning(c.Request.Context(), c.Param("id")); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetUserInputRequest fetches a single user input request by id, lazily
// expiring it past its deadline and notifying the session's WebSocket
// subscribers the one time that expiry transition happens.
// GET /api/v1/internal/user-input-requests/:id
func (h *Handler) GetUserInputRequest(c *gin.Context) {
	uir, expired, err := h.repo.GetUserInputRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	if expired && h.callbacks != nil {
		h.callbacks.Broadcast(uir.SessionID, "user_input.update", uir)
	}
	c.JSON(http.StatusOK, uir)
}

type answerUserInputRequestRequest struct {
	Answers json.RawMessage `json:"answers" binding:"required"`
}

// AnswerUserInputRequest records the UI's answer to a mid-run question and
// notifies the session's WebSocket subscribers of the transition.
// POST /api/v1/internal/user-input-requests/:id/answer
func (h *Handler) AnswerUserInputRequest(c *gin.Context) {
	var req answerUserInputRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}

	id := c.Param("id")
	uir, _, err := h.repo.GetUserInputRequest(c.Request.Context(), id)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	if uir.Status != model.UserInputPending {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest("user input request is no longer pending"))
		return
	}

	if err := h.repo.AnswerUserInputRequest(c.Request.Context(), id, model.UserInputAnswered, req.Answers); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	uir.Status = model.UserInputAnswered
	uir.Answers = req.Answers

	if h.callbacks != nil {
		h.callbacks.Broadcast(uir.SessionID, "user_input.update", uir)
	}
	c.Status(http.StatusNoContent)
}
