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

// CallbackPoster posts progress callbacks to the Executor Manager (or
// Backend, for a directly-dispatched Executor) at CallbackURL.
type CallbackPoster struct {
	httpClient *http.Client
}

// NewCallbackPoster creates a CallbackPoster.
func NewCallbackPoster() *CallbackPoster {
	return &CallbackPoster{httpClient: &http.Client{Timeout: 15 * time.Second}}
}

// Post sends req as a JSON body to url, authenticating with token as a
// bearer-style internal token header.
func (p *CallbackPoster) Post(ctx context.Context, url, token string, req Request) error {
	buf, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("X-Internal-Token", token)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("callback returned %d: %s", resp.StatusCode, body)
	}
	return nil
}
