package executorsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UserInputRequest mirrors the Manager/Backend's user_input_requests wire
// shape, as returned by the create/get proxy endpoints.
type UserInputRequest struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Answers   json.RawMessage `json:"answers,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

const (
	userInputStatusPending = "pending"
)

// UserInputClient asks the user a mid-run question by calling the Manager,
// which proxies create/get to the Backend's internal endpoint (spec.md
// §4.8). It never reaches the Backend directly — the Executor holds no
// internal token, only the Manager does.
type UserInputClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewUserInputClient creates a UserInputClient pointed at the Manager's
// CallbackBaseURL.
func NewUserInputClient(baseURL string) *UserInputClient {
	return &UserInputClient{baseURL: baseURL, httpClient: &http.Client{Timeout: 15 * time.Second}}
}

type createUserInputRequest struct {
	SessionID        string          `json:"session_id"`
	ToolName         string          `json:"tool_name"`
	ToolInput        json.RawMessage `json:"tool_input,omitempty"`
	ExpiresInSeconds int             `json:"expires_in_seconds,omitempty"`
}

// Create persists a mid-run question, returning its pending state.
func (c *UserInputClient) Create(ctx context.Context, sessionID, toolName string, toolInput json.RawMessage) (*UserInputRequest, error) {
	buf, err := json.Marshal(createUserInputRequest{SessionID: sessionID, ToolName: toolName, ToolInput: toolInput})
	if err != nil {
		return nil, fmt.Errorf("marshal user input request: %w", err)
	}
	var out UserInputRequest
	if err := c.do(ctx, http.MethodPost, "/api/v1/user-input-requests", buf, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches the request's current state.
func (c *UserInputClient) Get(ctx context.Context, id string) (*UserInputRequest, error) {
	var out UserInputRequest
	if err := c.do(ctx, http.MethodGet, "/api/v1/user-input-requests/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollUntilDone polls Get every interval until the request leaves pending or
// ctx is cancelled, whichever comes first.
func (c *UserInputClient) PollUntilDone(ctx context.Context, id string, interval time.Duration) (*UserInputRequest, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		req, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if req.Status != userInputStatusPending {
			return req, nil
		}
		select {
		case <-ctx.Done():
			return req, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *UserInputClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("user input request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("user input request to %s returned %d: %s", path, resp.StatusCode, respBody)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
