// Package executorclient is the Executor Manager's HTTP client for the
// Executor's task-execution endpoint.
package executorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/runflow/orchestrator/internal/apperrors"
)

// Client calls an Executor's `/v1/tasks/execute` endpoint. The Executor's
// base URL varies per call (it's the dispatched container's address), so
// unlike backendclient it is not fixed at construction time.
type Client struct {
	httpClient *http.Client
}

// New creates a Client with the connect/total timeouts spec.md §5 mandates
// for the Manager→Executor call.
func New() *Client {
	return &Client{httpClient: &http.Client{
		Timeout:   30 * time.Second,
		Transport: &http.Transport{DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext},
	}}
}

// ExecuteTaskRequest is the payload posted to the executor.
type ExecuteTaskRequest struct {
	ExecutorURL     string
	SessionID       string
	RunID           string
	Prompt          string
	CallbackURL     string
	CallbackToken   string
	CallbackBaseURL string
	Config          map[string]any
	SDKSessionID    *string
}

type executeTaskBody struct {
	SessionID       string         `json:"session_id"`
	Prompt          string         `json:"prompt"`
	CallbackURL     string         `json:"callback_url"`
	CallbackToken   string         `json:"callback_token"`
	CallbackBaseURL string         `json:"callback_base_url,omitempty"`
	Config          map[string]any `json:"config"`
	SDKSessionID    *string        `json:"sdk_session_id,omitempty"`
}

type executeTaskResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id"`
}

// ExecuteTask posts req to req.ExecutorURL, tagging the request with fresh
// X-Request-ID/X-Trace-ID headers per spec.md §6's trace-propagation rule.
func (c *Client) ExecuteTask(ctx context.Context, req ExecuteTaskRequest) error {
	buf, err := json.Marshal(executeTaskBody{
		SessionID:       req.SessionID,
		Prompt:          req.Prompt,
		CallbackURL:     req.CallbackURL,
		CallbackToken:   req.CallbackToken,
		CallbackBaseURL: req.CallbackBaseURL,
		Config:          req.Config,
		SDKSessionID:    req.SDKSessionID,
	})
	if err != nil {
		return fmt.Errorf("marshal execute-task request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.ExecutorURL+"/v1/tasks/execute", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", uuid.New().String())
	httpReq.Header.Set("X-Trace-ID", uuid.New().String())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeExternalServiceError, "executor request failed: "+req.ExecutorURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return apperrors.Wrap(apperrors.CodeExternalServiceError, fmt.Sprintf("executor returned %d: %s", resp.StatusCode, body), nil)
	}

	var out executeTaskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode executor response: %w", err)
	}
	return nil
}
