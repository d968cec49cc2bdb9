package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

type createSessionRequest struct {
	UserID         string          `json:"user_id" binding:"required"`
	Title          string          `json:"title"`
	ConfigSnapshot json.RawMessage `json:"config"`
}

// CreateSession creates a session with no run attached yet.
// POST /api/v1/sessions
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest(err.Error()))
		return
	}

	session := &model.Session{UserID: req.UserID, Title: req.Title, ConfigSnapshot: req.ConfigSnapshot}
	if err := h.repo.CreateSession(c.Request.Context(), session); err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// ListSessions lists a user's sessions, paginated.
// GET /api/v1/sessions?user_id=&limit=&offset=
func (h *Handler) ListSessions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		apperrors.RespondError(c, h.logger, apperrors.BadRequest("user_id is required"))
		return
	}
	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)

	sessions, err := h.repo.ListSessionsByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "total": len(sessions)})
}

// GetSession fetches one session by id.
// GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.repo.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// ListSessionMessages returns a session's messages, cursor-paginated by id.
// GET /api/v1/sessions/:id/messages?after_id=&limit=
func (h *Handler) ListSessionMessages(c *gin.Context) {
	afterID := int64(queryInt(c, "after_id", 0))
	limit := queryInt(c, "limit", 100)

	messages, err := h.repo.ListMessagesCursor(c.Request.Context(), c.Param("id"), afterID, limit)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// ListSessionToolExecutions returns a session's tool executions.
// GET /api/v1/sessions/:id/tool-executions
func (h *Handler) ListSessionToolExecutions(c *gin.Context) {
	executions, err := h.repo.ListToolExecutions(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tool_executions": executions})
}

// GetSessionUsage returns a session's total cost across its usage logs.
// GET /api/v1/sessions/:id/usage
func (h *Handler) GetSessionUsage(c *gin.Context) {
	total, err := h.repo.SumSessionCost(c.Request.Context(), c.Param("id"))
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("id"), "total_cost_usd": total})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
