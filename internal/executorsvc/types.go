package executorsvc

import (
	"time"

	"github.com/runflow/orchestrator/internal/agentctl/server/adapter"
)

// Status mirrors the Executor Manager's callback.Status wire values.
type Status string

const (
	StatusRunning  Status = "running"
	StatusComplete Status = "completed"
	StatusFailed   Status = "failed"
)

// ToolCall mirrors one tool_call/tool_update event, flattened into the
// callback's new_message payload.
type ToolCall struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	ToolTitle  string         `json:"tool_title,omitempty"`
	ToolStatus string         `json:"tool_status,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Request is the JSON body the Executor posts to the Manager's
// `/api/v1/callback`, matching manager/callback.Request's wire shape.
type Request struct {
	SessionID  string    `json:"session_id"`
	Time       time.Time `json:"time"`
	Status     Status    `json:"status"`
	Progress   int       `json:"progress"`
	NewMessage any       `json:"new_message,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// eventToRequest converts one normalized agent event into a callback
// request. Only message, reasoning and tool events carry a new_message
// payload; error events set Error instead, and plan and context-window
// events advance progress without one.
func eventToRequest(task Task, evt adapter.AgentEvent, progress int, sdkSessionID string) Request {
	req := Request{
		SessionID: task.SessionID,
		Time:      time.Now().UTC(),
		Progress:  progress,
	}

	switch evt.Type {
	case adapter.EventTypeComplete:
		req.Status = StatusComplete
	case adapter.EventTypeError:
		req.Status = StatusFailed
		req.Error = evt.Error
	default:
		req.Status = StatusRunning
	}

	switch evt.Type {
	case adapter.EventTypeMessageChunk:
		req.NewMessage = map[string]any{"role": "assistant", "content": evt.Text}
	case adapter.EventTypeReasoning:
		req.NewMessage = map[string]any{"role": "assistant", "reasoning": evt.ReasoningText}
	case adapter.EventTypeToolCall, adapter.EventTypeToolUpdate:
		req.NewMessage = map[string]any{
			"role": "tool",
			"tool_call": ToolCall{
				ToolCallID: evt.ToolCallID,
				ToolName:   evt.ToolName,
				ToolTitle:  evt.ToolTitle,
				ToolStatus: evt.ToolStatus,
				Data:       evt.Data,
			},
		}
	}

	return req
}
