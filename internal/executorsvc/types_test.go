package executorsvc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runflow/orchestrator/internal/agentctl/server/adapter"
)

func TestEventToRequestMessageChunk(t *testing.T) {
	task := Task{SessionID: "session-1"}
	evt := adapter.AgentEvent{Type: adapter.EventTypeMessageChunk, Text: "hello"}

	req := eventToRequest(task, evt, 42, "")

	assert.Equal(t, "session-1", req.SessionID)
	assert.Equal(t, StatusRunning, req.Status)
	assert.Equal(t, 42, req.Progress)
	msg := req.NewMessage.(map[string]any)
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "hello", msg["content"])
}

func TestEventToRequestReasoning(t *testing.T) {
	evt := adapter.AgentEvent{Type: adapter.EventTypeReasoning, ReasoningText: "thinking..."}

	req := eventToRequest(Task{}, evt, 10, "")

	assert.Equal(t, StatusRunning, req.Status)
	msg := req.NewMessage.(map[string]any)
	assert.Equal(t, "thinking...", msg["reasoning"])
}

func TestEventToRequestToolCall(t *testing.T) {
	evt := adapter.AgentEvent{
		Type:       adapter.EventTypeToolCall,
		ToolCallID: "tc-1",
		ToolName:   "bash",
		ToolTitle:  "Run command",
		ToolStatus: "pending",
	}

	req := eventToRequest(Task{}, evt, 5, "")

	msg := req.NewMessage.(map[string]any)
	assert.Equal(t, "tool", msg["role"])
	tc := msg["tool_call"].(ToolCall)
	assert.Equal(t, "tc-1", tc.ToolCallID)
	assert.Equal(t, "bash", tc.ToolName)
}

func TestEventToRequestComplete(t *testing.T) {
	evt := adapter.AgentEvent{Type: adapter.EventTypeComplete}

	req := eventToRequest(Task{}, evt, 100, "")

	assert.Equal(t, StatusComplete, req.Status)
	assert.Nil(t, req.NewMessage)
}

func TestEventToRequestError(t *testing.T) {
	evt := adapter.AgentEvent{Type: adapter.EventTypeError, Error: "boom"}

	req := eventToRequest(Task{}, evt, 0, "")

	assert.Equal(t, StatusFailed, req.Status)
	assert.Equal(t, "boom", req.Error)
}

func TestEventToRequestPlanHasNoMessage(t *testing.T) {
	evt := adapter.AgentEvent{Type: adapter.EventTypePlan}

	req := eventToRequest(Task{}, evt, 3, "")

	assert.Equal(t, StatusRunning, req.Status)
	assert.Nil(t, req.NewMessage)
}
