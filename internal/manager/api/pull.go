package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
)

type triggerPullRequest struct {
	ScheduleModes []string `json:"schedule_modes"`
	Reason        string   `json:"reason"`
}

// TriggerPull wakes the pull loop for an immediate claim attempt, debounced
// against triggers for the same schedule modes within TriggerDebounce.
// POST /api/v1/internal/pull/trigger
func (h *Handler) TriggerPull(c *gin.Context) {
	var req triggerPullRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	modes := req.ScheduleModes
	if len(modes) == 0 {
		modes = h.scheduleModes
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	accepted, debounceReason := h.pull.Trigger(c.Request.Context(), modes, reason)
	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "debounce_reason": debounceReason})
}
