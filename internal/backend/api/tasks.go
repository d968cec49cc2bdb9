package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

type createTaskRequest struct {
	UserID       string          `json:"user_id" binding:"required"`
	SessionID    string          `json:"session_id"`
	Prompt       string          `json:"prompt" binding:"required"`
	ScheduleMode model.ScheduleMode `json:"schedule_mode"`
	ScheduledAt  *time.Time      `json:"scheduled_at"`
	Config       json.RawMessage `json:"config"`
}

// CreateTask enqueues a new Run, creating its Session if session_id is omitted.
// POST /api/v1/tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	if req.ScheduleMode == "" {
		req.ScheduleMode = model.ScheduleImmediate
	}

	result, err := h.runs.Enqueue(c.Request.Context(), req.UserID, req.SessionID, req.Prompt, req.ScheduleMode, req.ScheduledAt, req.Config)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"run_id": result.RunID, "session_id": result.SessionID})
}
