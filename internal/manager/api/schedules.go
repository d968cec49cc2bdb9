package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetSchedules returns the pull loop's configured interval rules, for the UI
// to display when the next poll for each schedule mode is due.
// GET /api/v1/schedules
func (h *Handler) GetSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.pull.Rules()})
}
