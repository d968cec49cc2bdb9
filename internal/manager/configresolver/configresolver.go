// Package configresolver expands a Run's config_snapshot into the
// fully-resolved config the executor receives: `$ref: "preset:<name>"`
// entries are inlined from the Backend's MCP/skill presets, and
// `${env:VAR}` placeholders are substituted from the user's env vars. A
// process-local cache (optionally Redis-backed for multi-replica Manager
// deployments) holds presets for 60 seconds to avoid hammering the Backend
// on every dispatch.
package configresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/manager/backendclient"
)

const cacheTTL = 60 * time.Second

var envPattern = regexp.MustCompile(`\$\{env:([^}]+)\}`)

// Resolver resolves a raw config_snapshot into the config handed to the
// executor.
type Resolver struct {
	backend *backendclient.Client
	redis   *redis.Client

	mu            sync.Mutex
	cacheUntil    time.Time
	mcpPresets    map[string]*backendclient.PresetResponse
	skillPresets  map[string]*backendclient.PresetResponse
}

// New creates a Resolver. redisClient may be nil, in which case the preset
// cache is process-local only.
func New(backend *backendclient.Client, redisClient *redis.Client) *Resolver {
	return &Resolver{
		backend:      backend,
		redis:        redisClient,
		mcpPresets:   map[string]*backendclient.PresetResponse{},
		skillPresets: map[string]*backendclient.PresetResponse{},
	}
}

// Resolve expands $ref presets and ${env:VAR} placeholders within
// configSnapshot's `mcp_config` and `skill_files` sections for userID,
// returning the full resolved config (other top-level keys pass through
// unchanged).
func (r *Resolver) Resolve(ctx context.Context, userID string, configSnapshot map[string]any) (map[string]any, error) {
	if err := r.ensureCache(ctx); err != nil {
		return nil, err
	}
	envMap, err := r.envMap(ctx, userID)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]any, len(configSnapshot))
	for k, v := range configSnapshot {
		resolved[k] = v
	}

	mcpConfig, _ := configSnapshot["mcp_config"].(map[string]any)
	resolvedMCP, err := r.resolveMCP(mcpConfig, envMap)
	if err != nil {
		return nil, err
	}
	resolved["mcp_config"] = resolvedMCP

	skillFiles, _ := configSnapshot["skill_files"].(map[string]any)
	resolvedSkills, err := r.resolveSkills(skillFiles, envMap)
	if err != nil {
		return nil, err
	}
	resolved["skill_files"] = resolvedSkills

	return resolved, nil
}

func (r *Resolver) ensureCache(ctx context.Context) error {
	r.mu.Lock()
	fresh := time.Now().Before(r.cacheUntil)
	r.mu.Unlock()
	if fresh {
		return nil
	}

	if r.redis != nil {
		if loaded := r.loadPresetsFromRedis(ctx); loaded {
			return nil
		}
	}

	mcp, err := r.backend.ListMCPPresets(ctx)
	if err != nil {
		return err
	}
	skills, err := r.backend.ListSkillPresets(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.mcpPresets = mcp
	r.skillPresets = skills
	r.cacheUntil = time.Now().Add(cacheTTL)
	r.mu.Unlock()

	if r.redis != nil {
		r.storePresetsToRedis(ctx, mcp, skills)
	}
	return nil
}

func (r *Resolver) loadPresetsFromRedis(ctx context.Context) bool {
	mcpRaw, err := r.redis.Get(ctx, "configresolver:mcp_presets").Result()
	if err != nil {
		return false
	}
	skillRaw, err := r.redis.Get(ctx, "configresolver:skill_presets").Result()
	if err != nil {
		return false
	}
	var mcp, skills map[string]*backendclient.PresetResponse
	if json.Unmarshal([]byte(mcpRaw), &mcp) != nil || json.Unmarshal([]byte(skillRaw), &skills) != nil {
		return false
	}

	r.mu.Lock()
	r.mcpPresets, r.skillPresets = mcp, skills
	r.cacheUntil = time.Now().Add(cacheTTL)
	r.mu.Unlock()
	return true
}

func (r *Resolver) storePresetsToRedis(ctx context.Context, mcp, skills map[string]*backendclient.PresetResponse) {
	if buf, err := json.Marshal(mcp); err == nil {
		r.redis.Set(ctx, "configresolver:mcp_presets", buf, cacheTTL)
	}
	if buf, err := json.Marshal(skills); err == nil {
		r.redis.Set(ctx, "configresolver:skill_presets", buf, cacheTTL)
	}
}

func (r *Resolver) envMap(ctx context.Context, userID string) (map[string]string, error) {
	return r.backend.EnvVarsMap(ctx, userID)
}

func (r *Resolver) resolveMCP(mcpConfig map[string]any, envMap map[string]string) (map[string]any, error) {
	resolved := make(map[string]any, len(mcpConfig))
	r.mu.Lock()
	presets := r.mcpPresets
	r.mu.Unlock()

	for name, raw := range mcpConfig {
		entry, ok := raw.(map[string]any)
		if !ok {
			resolved[name] = raw
			continue
		}
		if isDisabled(entry) {
			continue
		}
		ref, hasRef := refName(entry)
		if !hasRef {
			resolvedEntry, err := resolveEnvValue(entry, envMap)
			if err != nil {
				return nil, err
			}
			resolved[name] = resolvedEntry
			continue
		}
		preset, ok := presets[ref]
		if !ok || !preset.IsActive {
			return nil, apperrors.New(apperrors.CodeMCPPresetNotFound, fmt.Sprintf("MCP preset not found: %s", ref))
		}
		base := map[string]any{"transport": preset.Transport}
		mergeDefaultConfig(base, preset.DefaultConfig)
		overrideInto(base, entry)
		resolvedEntry, err := resolveEnvValue(base, envMap)
		if err != nil {
			return nil, err
		}
		resolved[name] = resolvedEntry
	}
	return resolved, nil
}

func (r *Resolver) resolveSkills(skillFiles map[string]any, envMap map[string]string) (map[string]any, error) {
	resolved := make(map[string]any, len(skillFiles))
	r.mu.Lock()
	presets := r.skillPresets
	r.mu.Unlock()

	for name, raw := range skillFiles {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if isDisabled(entry) {
			resolved[name] = map[string]any{"enabled": false}
			continue
		}
		ref, hasRef := refName(entry)
		if !hasRef {
			resolvedEntry, err := resolveEnvValue(entry, envMap)
			if err != nil {
				return nil, err
			}
			resolved[name] = resolvedEntry
			continue
		}
		preset, ok := presets[ref]
		if !ok || !preset.IsActive {
			return nil, apperrors.New(apperrors.CodeSkillPresetNotFound, fmt.Sprintf("skill preset not found: %s", ref))
		}
		base := map[string]any{"enabled": true, "entry": preset.Entry}
		var defaultConfig map[string]any
		if len(preset.DefaultConfig) > 0 {
			_ = json.Unmarshal(preset.DefaultConfig, &defaultConfig)
		}
		base["config"] = defaultConfig
		overrideInto(base, entry)
		resolvedEntry, err := resolveEnvValue(base, envMap)
		if err != nil {
			return nil, err
		}
		resolved[name] = resolvedEntry
	}
	return resolved, nil
}

func isDisabled(entry map[string]any) bool {
	if enabled, ok := entry["enabled"].(bool); ok && !enabled {
		return true
	}
	if disabled, ok := entry["disabled"].(bool); ok && disabled {
		return true
	}
	return false
}

func refName(entry map[string]any) (string, bool) {
	ref, ok := entry["$ref"].(string)
	if !ok {
		return "", false
	}
	const prefix = "preset:"
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	return strings.TrimPrefix(ref, prefix), true
}

func mergeDefaultConfig(base map[string]any, raw json.RawMessage) {
	if len(raw) == 0 {
		return
	}
	var defaults map[string]any
	if json.Unmarshal(raw, &defaults) != nil {
		return
	}
	for k, v := range defaults {
		base[k] = v
	}
}

func overrideInto(base, entry map[string]any) {
	for k, v := range entry {
		if k == "$ref" {
			continue
		}
		base[k] = v
	}
}

// resolveEnvValue recursively substitutes ${env:VAR} in strings, lists and
// maps, failing with CodeEnvVarNotFound on the first unresolved reference.
func resolveEnvValue(value any, envMap map[string]string) (any, error) {
	switch v := value.(type) {
	case string:
		matches := envPattern.FindAllStringSubmatch(v, -1)
		if len(matches) == 0 {
			return v, nil
		}
		resolved := v
		for _, m := range matches {
			name := m[1]
			val, ok := envMap[name]
			if !ok {
				return nil, apperrors.New(apperrors.CodeEnvVarNotFound, fmt.Sprintf("env var not found: %s", name))
			}
			resolved = strings.ReplaceAll(resolved, "${env:"+name+"}", val)
		}
		return resolved, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolvedItem, err := resolveEnvValue(item, envMap)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedItem
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			resolvedItem, err := resolveEnvValue(item, envMap)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedItem
		}
		return out, nil
	default:
		return v, nil
	}
}
