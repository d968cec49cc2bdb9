// Package callback implements the Backend's ingress for executor callbacks
// forwarded by the Executor Manager: persisting session/run state, messages,
// tool executions and usage, then fanning the result out over WebSocket.
package callback

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle status an executor callback reports.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRunning  Status = "running"
	StatusComplete Status = "completed"
	StatusFailed   Status = "failed"
)

// TodoItem mirrors one entry of an AgentCurrentState's todo list.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"active_form,omitempty"`
}

// MCPStatus reports one MCP server's connection state.
type MCPStatus struct {
	ServerName string `json:"server_name"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// FileChange is one workspace file's change record.
type FileChange struct {
	Path         string `json:"path"`
	Status       string `json:"status"`
	AddedLines   int    `json:"added_lines"`
	DeletedLines int    `json:"deleted_lines"`
	Diff         string `json:"diff,omitempty"`
	OldPath      string `json:"old_path,omitempty"`
}

// WorkspaceState summarizes the agent's view of its workspace diff.
type WorkspaceState struct {
	Repository        string       `json:"repository,omitempty"`
	Branch            string       `json:"branch,omitempty"`
	TotalAddedLines   int          `json:"total_added_lines"`
	TotalDeletedLines int          `json:"total_deleted_lines"`
	FileChanges       []FileChange `json:"file_changes"`
	LastChange        time.Time    `json:"last_change"`
}

// StatePatch is the agent's current-state snapshot attached to a callback.
type StatePatch struct {
	Todos          []TodoItem      `json:"todos,omitempty"`
	MCPStatus      []MCPStatus     `json:"mcp_status,omitempty"`
	WorkspaceState *WorkspaceState `json:"workspace_state,omitempty"`
	CurrentStep    string          `json:"current_step,omitempty"`
}

// Request is the payload the Executor Manager forwards to `/api/v1/callback`.
type Request struct {
	SessionID             string          `json:"session_id"`
	Time                  time.Time       `json:"time"`
	Status                Status          `json:"status"`
	Progress              int             `json:"progress"`
	NewMessage            json.RawMessage `json:"new_message,omitempty"`
	StatePatch            *StatePatch     `json:"state_patch,omitempty"`
	SDKSessionID          string          `json:"sdk_session_id,omitempty"`
	WorkspaceFilesPrefix  *string         `json:"workspace_files_prefix,omitempty"`
	WorkspaceManifestKey  *string         `json:"workspace_manifest_key,omitempty"`
	WorkspaceArchiveKey   *string         `json:"workspace_archive_key,omitempty"`
	WorkspaceExportStatus *string         `json:"workspace_export_status,omitempty"`
}

// Response acknowledges a processed callback.
type Response struct {
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	CallbackStatus Status `json:"callback_status,omitempty"`
	Message        string `json:"message,omitempty"`
}

func (s Status) terminal() bool {
	return s == StatusComplete || s == StatusFailed
}
