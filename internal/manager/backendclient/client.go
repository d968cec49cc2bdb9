// Package backendclient is the Executor Manager's HTTP client for the
// Backend: claim/lease transitions, preset and env-var lookups, and
// callback forwarding.
package backendclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/runflow/orchestrator/internal/apperrors"
	"github.com/runflow/orchestrator/internal/common/logger"
	"go.uber.org/zap"
)

// Client talks to the Backend's `/api/v1/...` surface.
type Client struct {
	baseURL       string
	internalToken string
	httpClient    *http.Client
	logger        *logger.Logger
}

// NewClient creates a Client pointed at baseURL, authenticating internal
// (Manager→Backend) calls with internalToken via X-Internal-Token.
func NewClient(baseURL, internalToken string, log *logger.Logger) *Client {
	return &Client{
		baseURL:       baseURL,
		internalToken: internalToken,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        log.WithFields(zap.String("component", "backend-client")),
	}
}

type claimRequest struct {
	WorkerID      string   `json:"worker_id"`
	LeaseSeconds  int      `json:"lease_seconds"`
	ScheduleModes []string `json:"schedule_modes,omitempty"`
}

// ClaimedRun mirrors the Backend's claim response.
type ClaimedRun struct {
	RunID          string          `json:"run_id"`
	SessionID      string          `json:"session_id"`
	UserID         string          `json:"user_id"`
	SDKSessionID   *string         `json:"sdk_session_id,omitempty"`
	Prompt         string          `json:"prompt"`
	ConfigSnapshot json.RawMessage `json:"config_snapshot"`
	ScheduleMode   string          `json:"schedule_mode"`
}

// ClaimRun atomically claims the oldest eligible queued run, or returns
// (nil, nil) if the queue has nothing claimable under modes.
func (c *Client) ClaimRun(ctx context.Context, workerID string, leaseSeconds int, modes []string) (*ClaimedRun, error) {
	var claimed ClaimedRun
	ok, err := c.post(ctx, "/api/v1/runs/claim", claimRequest{WorkerID: workerID, LeaseSeconds: leaseSeconds, ScheduleModes: modes}, &claimed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &claimed, nil
}

type leaseRequest struct {
	WorkerID     string `json:"worker_id"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// MarkSessionRunning transitions a session to running, ahead of the
// executor call — distinct from StartRun's run-row transition.
func (c *Client) MarkSessionRunning(ctx context.Context, sessionID string) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/v1/internal/sessions/%s/running", sessionID), struct{}{}, nil)
	return err
}

// StartRun transitions a claimed run to running.
func (c *Client) StartRun(ctx context.Context, runID, workerID string) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/v1/runs/%s/start", runID), leaseRequest{WorkerID: workerID}, nil)
	return err
}

// FailRun transitions a run to failed, recording errMsg.
func (c *Client) FailRun(ctx context.Context, runID, workerID, errMsg string) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/v1/runs/%s/fail", runID), leaseRequest{WorkerID: workerID, ErrorMessage: errMsg}, nil)
	return err
}

// PostCallback forwards a (sanitized) executor callback payload to the
// Backend's callback ingress.
func (c *Client) PostCallback(ctx context.Context, payload any) error {
	_, err := c.post(ctx, "/api/v1/callback", payload, nil)
	return err
}

// UserInputRequest mirrors the Backend's user_input_requests row, as
// returned by the create/get internal endpoints.
type UserInputRequest struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
	Status    string          `json:"status"`
	Answers   json.RawMessage `json:"answers,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type createUserInputRequest struct {
	SessionID        string          `json:"session_id"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input,omitempty"`
	ExpiresInSeconds int             `json:"expires_in_seconds,omitempty"`
}

// CreateUserInputRequest persists a mid-run question the executor is
// blocking on, spec.md §4.8's create operation.
func (c *Client) CreateUserInputRequest(ctx context.Context, sessionID, toolName string, toolInput json.RawMessage, expiresInSeconds int) (*UserInputRequest, error) {
	var out UserInputRequest
	_, err := c.post(ctx, "/api/v1/internal/user-input-requests", createUserInputRequest{
		SessionID:        sessionID,
		ToolName:         toolName,
		ToolInput:        toolInput,
		ExpiresInSeconds: expiresInSeconds,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserInputRequest fetches the current state of a user input request,
// for the executor's poll loop.
func (c *Client) GetUserInputRequest(ctx context.Context, id string) (*UserInputRequest, error) {
	var out UserInputRequest
	if err := c.get(ctx, fmt.Sprintf("/api/v1/internal/user-input-requests/%s", id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EnvVarsMap fetches a user's env vars as a flat key/value map, used by the
// config resolver's `${env:VAR}` substitution.
func (c *Client) EnvVarsMap(ctx context.Context, userID string) (map[string]string, error) {
	var out map[string]string
	if err := c.get(ctx, fmt.Sprintf("/api/v1/internal/env-vars/map?user_id=%s", userID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveSlashCommands fetches a user's slash commands as a name -> markdown
// body map, used by slash-command staging before dispatch.
func (c *Client) ResolveSlashCommands(ctx context.Context, userID string) (map[string]string, error) {
	var out map[string]string
	if err := c.get(ctx, fmt.Sprintf("/api/v1/internal/slash-commands/resolve?user_id=%s", userID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PresetResponse is a single MCP or skill preset as returned by the Backend.
type PresetResponse struct {
	Name          string          `json:"name"`
	IsActive      bool            `json:"is_active"`
	Transport     string          `json:"transport,omitempty"`
	Entry         string          `json:"entry,omitempty"`
	DefaultConfig json.RawMessage `json:"default_config,omitempty"`
}

// ListMCPPresets fetches all MCP presets (active and inactive), keyed by
// name, for the config resolver's 60s cache.
func (c *Client) ListMCPPresets(ctx context.Context) (map[string]*PresetResponse, error) {
	return c.listPresets(ctx, "/api/v1/mcp-presets?include_inactive=true")
}

// ListSkillPresets fetches all skill presets, keyed by name.
func (c *Client) ListSkillPresets(ctx context.Context) (map[string]*PresetResponse, error) {
	return c.listPresets(ctx, "/api/v1/skill-presets?include_inactive=true")
}

func (c *Client) listPresets(ctx context.Context, path string) (map[string]*PresetResponse, error) {
	var list []*PresetResponse
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	byName := make(map[string]*PresetResponse, len(list))
	for _, p := range list {
		byName[p.Name] = p
	}
	return byName, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.internalToken != "" {
		req.Header.Set("X-Internal-Token", c.internalToken)
	}
	req.Header.Set("Content-Type", "application/json")
}

// post sends body as JSON to path, decoding the response into out (if
// non-nil). Returns ok=false without error on a 204/404 (used by claim's
// "nothing to claim" case).
func (c *Client) post(ctx context.Context, path string, body any, out any) (bool, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return false, err
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeBackendUnavailable, "backend request failed: "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return false, apperrors.Wrap(apperrors.CodeExternalServiceError, fmt.Sprintf("backend %s returned %d: %s", path, resp.StatusCode, respBody), nil)
	}
	if out == nil {
		return true, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode response from %s: %w", path, err)
	}
	return true, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setAuth(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeBackendUnavailable, "backend request failed: "+path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.Wrap(apperrors.CodeExternalServiceError, fmt.Sprintf("backend %s returned %d: %s", path, resp.StatusCode, body), nil)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
