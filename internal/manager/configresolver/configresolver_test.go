package configresolver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runflow/orchestrator/internal/common/logger"
	"github.com/runflow/orchestrator/internal/manager/backendclient"
)

func setupResolver(t *testing.T, mcpPresets, skillPresets []backendclient.PresetResponse, envVars map[string]string) *Resolver {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/mcp-presets":
			_ = json.NewEncoder(w).Encode(mcpPresets)
		case r.URL.Path == "/api/v1/skill-presets":
			_ = json.NewEncoder(w).Encode(skillPresets)
		case r.URL.Path == "/api/v1/internal/env-vars/map":
			_ = json.NewEncoder(w).Encode(envVars)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)

	backend := backendclient.NewClient(server.URL, "", log)
	return New(backend, nil)
}

func TestResolvePassesThroughPlainEntries(t *testing.T) {
	r := setupResolver(t, nil, nil, nil)

	resolved, err := r.Resolve(t.Context(), "user-1", map[string]any{
		"mcp_config": map[string]any{
			"filesystem": map[string]any{"command": "mcp-fs"},
		},
		"skill_files": map[string]any{},
	})

	require.NoError(t, err)
	mcp := resolved["mcp_config"].(map[string]any)
	assert.Equal(t, "mcp-fs", mcp["filesystem"].(map[string]any)["command"])
}

func TestResolveExpandsEnvPlaceholders(t *testing.T) {
	r := setupResolver(t, nil, nil, map[string]string{"API_KEY": "secret123"})

	resolved, err := r.Resolve(t.Context(), "user-1", map[string]any{
		"mcp_config": map[string]any{
			"remote": map[string]any{"token": "${env:API_KEY}"},
		},
		"skill_files": map[string]any{},
	})

	require.NoError(t, err)
	mcp := resolved["mcp_config"].(map[string]any)
	assert.Equal(t, "secret123", mcp["remote"].(map[string]any)["token"])
}

func TestResolveFailsOnUnknownEnvVar(t *testing.T) {
	r := setupResolver(t, nil, nil, map[string]string{})

	_, err := r.Resolve(t.Context(), "user-1", map[string]any{
		"mcp_config":  map[string]any{"remote": map[string]any{"token": "${env:MISSING}"}},
		"skill_files": map[string]any{},
	})

	assert.Error(t, err)
}

func TestResolveExpandsMCPPreset(t *testing.T) {
	preset := backendclient.PresetResponse{
		Name:          "github",
		IsActive:      true,
		Transport:     "stdio",
		DefaultConfig: json.RawMessage(`{"command":"github-mcp"}`),
	}
	r := setupResolver(t, []backendclient.PresetResponse{preset}, nil, nil)

	resolved, err := r.Resolve(t.Context(), "user-1", map[string]any{
		"mcp_config":  map[string]any{"gh": map[string]any{"$ref": "preset:github"}},
		"skill_files": map[string]any{},
	})

	require.NoError(t, err)
	gh := resolved["mcp_config"].(map[string]any)["gh"].(map[string]any)
	assert.Equal(t, "stdio", gh["transport"])
	assert.Equal(t, "github-mcp", gh["command"])
}

func TestResolveUnknownMCPPresetFails(t *testing.T) {
	r := setupResolver(t, nil, nil, nil)

	_, err := r.Resolve(t.Context(), "user-1", map[string]any{
		"mcp_config":  map[string]any{"gh": map[string]any{"$ref": "preset:missing"}},
		"skill_files": map[string]any{},
	})

	assert.Error(t, err)
}

func TestResolveSkipsDisabledMCPEntry(t *testing.T) {
	r := setupResolver(t, nil, nil, nil)

	resolved, err := r.Resolve(t.Context(), "user-1", map[string]any{
		"mcp_config":  map[string]any{"gh": map[string]any{"enabled": false, "command": "x"}},
		"skill_files": map[string]any{},
	})

	require.NoError(t, err)
	mcp := resolved["mcp_config"].(map[string]any)
	_, present := mcp["gh"]
	assert.False(t, present)
}

func TestResolveSkillPresetAppliesOverride(t *testing.T) {
	preset := backendclient.PresetResponse{
		Name:          "linter",
		IsActive:      true,
		Entry:         "SKILL.md",
		DefaultConfig: json.RawMessage(`{"strict":true}`),
	}
	r := setupResolver(t, nil, []backendclient.PresetResponse{preset}, nil)

	resolved, err := r.Resolve(t.Context(), "user-1", map[string]any{
		"mcp_config": map[string]any{},
		"skill_files": map[string]any{
			"lint": map[string]any{"$ref": "preset:linter", "entry": "CUSTOM.md"},
		},
	})

	require.NoError(t, err)
	lint := resolved["skill_files"].(map[string]any)["lint"].(map[string]any)
	assert.Equal(t, true, lint["enabled"])
	assert.Equal(t, "CUSTOM.md", lint["entry"])
}
