package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

type claimRunRequest struct {
	WorkerID      string   `json:"worker_id" binding:"required"`
	LeaseSeconds  int      `json:"lease_seconds"`
	ScheduleModes []string `json:"schedule_modes"`
}

// ClaimRun atomically hands the oldest eligible queued run to a worker under
// a lease, or responds 404 when nothing is claimable.
// POST /api/v1/runs/claim
func (h *Handler) ClaimRun(c *gin.Context) {
	var req claimRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	if req.LeaseSeconds <= 0 {
		req.LeaseSeconds = 60
	}
	modes := make([]model.ScheduleMode, len(req.ScheduleModes))
	for i, m := range req.ScheduleModes {
		modes[i] = model.ScheduleMode(m)
	}
	if len(modes) == 0 {
		modes = []model.ScheduleMode{model.ScheduleImmediate, model.ScheduleScheduled}
	}

	claimed, err := h.runs.Claim(c.Request.Context(), req.WorkerID, req.LeaseSeconds, modes)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	if claimed == nil {
		c.Status(http.StatusNotFound)
		return
	}
	c.JSON(http.StatusOK, claimed)
}

type leaseActionRequest struct {
	WorkerID     string `json:"worker_id" binding:"required"`
	ErrorMessage string `json:"error_message"`
}

// StartRun transitions a claimed run to running, gated by lease ownership.
// POST /api/v1/runs/:id/start
func (h *Handler) StartRun(c *gin.Context) {
	var req leaseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	if err := h.runs.Start(c.Request.Context(), c.Param("id"), req.WorkerID); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FailRun transitions a run to failed, recording error_message.
// POST /api/v1/runs/:id/fail
func (h *Handler) FailRun(c *gin.Context) {
	var req leaseActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}
	if err := h.runs.Fail(c.Request.Context(), c.Param("id"), req.WorkerID, req.ErrorMessage); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
