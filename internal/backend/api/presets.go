package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/model"
)

type presetResponse struct {
	Name          string          `json:"name"`
	IsActive      bool            `json:"is_active"`
	Transport     string          `json:"transport,omitempty"`
	Entry         string          `json:"entry,omitempty"`
	DefaultConfig json.RawMessage `json:"default_config,omitempty"`
}

// ListMCPPresets lists MCP server presets.
// GET /api/v1/mcp-presets?include_inactive=
func (h *Handler) ListMCPPresets(c *gin.Context) {
	h.listPresets(c, model.PresetMCP)
}

// ListSkillPresets lists skill presets.
// GET /api/v1/skill-presets?include_inactive=
func (h *Handler) ListSkillPresets(c *gin.Context) {
	h.listPresets(c, model.PresetSkill)
}

func (h *Handler) listPresets(c *gin.Context, kind model.PresetKind) {
	presets, err := h.repo.ListPresets(c.Request.Context(), kind)
	if err != nil {
		apperrors.RespondError(c, h.logger, err)
		return
	}
	includeInactive := c.Query("include_inactive") == "true"

	out := make([]presetResponse, 0, len(presets))
	for _, p := range presets {
		if !p.IsActive && !includeInactive {
			continue
		}
		out = append(out, presetResponse{
			Name:          p.Name,
			IsActive:      p.IsActive,
			Transport:     p.Transport,
			Entry:         p.Entry,
			DefaultConfig: p.DefaultConfig,
		})
	}
	c.JSON(http.StatusOK, out)
}
