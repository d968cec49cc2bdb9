// Package model defines the persistence-layer entities shared by the
// backend, executor-manager, and executor binaries: plain structs keyed by
// id, with a thin repository layer doing the joining — no ORM reverse
// relationships.
package model

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionCanceled  SessionStatus = "canceled"
)

// WorkspaceExportStatus is the state of the post-terminal workspace export.
type WorkspaceExportStatus string

const (
	ExportPending WorkspaceExportStatus = "pending"
	ExportReady   WorkspaceExportStatus = "ready"
	ExportFailed  WorkspaceExportStatus = "failed"
)

// Session is a logical conversation, persistent across Runs.
type Session struct {
	ID                   string          `db:"id" json:"session_id"`
	UserID               string          `db:"user_id" json:"user_id"`
	SDKSessionID          *string         `db:"sdk_session_id" json:"sdk_session_id,omitempty"`
	ConfigSnapshot       json.RawMessage `db:"config_snapshot" json:"config_snapshot"`
	StatePatch           json.RawMessage `db:"state_patch" json:"state_patch,omitempty"`
	Status               SessionStatus   `db:"status" json:"status"`
	WorkspaceFilesPrefix string          `db:"workspace_files_prefix" json:"workspace_files_prefix,omitempty"`
	WorkspaceManifestKey string          `db:"workspace_manifest_key" json:"workspace_manifest_key,omitempty"`
	WorkspaceArchiveKey  string          `db:"workspace_archive_key" json:"workspace_archive_key,omitempty"`
	WorkspaceExportStatus WorkspaceExportStatus `db:"workspace_export_status" json:"workspace_export_status,omitempty"`
	Title                string          `db:"title" json:"title,omitempty"`
	CreatedAt            time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at" json:"updated_at"`
}

// ScheduleMode selects which pull-loop rule set a Run is eligible under.
type ScheduleMode string

const (
	ScheduleImmediate ScheduleMode = "immediate"
	ScheduleScheduled ScheduleMode = "scheduled"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunClaimed   RunStatus = "claimed"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// Run is one execution attempt bound to a Session and a worker lease.
type Run struct {
	ID             string       `db:"id" json:"run_id"`
	SessionID      string       `db:"session_id" json:"session_id"`
	Prompt         string       `db:"prompt" json:"prompt"`
	ScheduleMode   ScheduleMode `db:"schedule_mode" json:"schedule_mode"`
	ScheduledAt    *time.Time   `db:"scheduled_at" json:"scheduled_at,omitempty"`
	Status         RunStatus    `db:"status" json:"status"`
	WorkerID       *string      `db:"worker_id" json:"worker_id,omitempty"`
	LeaseExpiresAt *time.Time   `db:"lease_expires_at" json:"lease_expires_at,omitempty"`
	Progress       int          `db:"progress" json:"progress"`
	StartedAt      *time.Time   `db:"started_at" json:"started_at,omitempty"`
	FinishedAt     *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage   string       `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// MessageRole identifies who authored a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is an append-only record derived from executor callbacks.
type Message struct {
	ID          int64           `db:"id" json:"id"`
	SessionID   string          `db:"session_id" json:"session_id"`
	Role        MessageRole     `db:"role" json:"role"`
	Content     json.RawMessage `db:"content" json:"content"`
	TextPreview string          `db:"text_preview" json:"text_preview,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// ToolExecution is one tool call; Use and Result blocks update the same row.
type ToolExecution struct {
	ID              int64           `db:"id" json:"id"`
	SessionID       string          `db:"session_id" json:"session_id"`
	ToolUseID       string          `db:"tool_use_id" json:"tool_use_id"`
	MessageID       int64           `db:"message_id" json:"message_id"`
	ToolName        string          `db:"tool_name" json:"tool_name"`
	ToolInput       json.RawMessage `db:"tool_input" json:"tool_input,omitempty"`
	ToolOutput      json.RawMessage `db:"tool_output" json:"tool_output,omitempty"`
	IsError         bool            `db:"is_error" json:"is_error"`
	ResultMessageID *int64          `db:"result_message_id" json:"result_message_id,omitempty"`
	DurationMs      *int64          `db:"duration_ms" json:"duration_ms,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// UserInputRequestStatus is the lifecycle state of a UserInputRequest.
type UserInputRequestStatus string

const (
	UserInputPending  UserInputRequestStatus = "pending"
	UserInputAnswered UserInputRequestStatus = "answered"
	UserInputExpired  UserInputRequestStatus = "expired"
)

// UserInputRequest is a mid-run question posed by the executor.
type UserInputRequest struct {
	ID         string                 `db:"id" json:"id"`
	SessionID  string                 `db:"session_id" json:"session_id"`
	ToolName   string                 `db:"tool_name" json:"tool_name"`
	ToolInput  json.RawMessage        `db:"tool_input" json:"tool_input,omitempty"`
	Status     UserInputRequestStatus `db:"status" json:"status"`
	Answers    json.RawMessage        `db:"answers" json:"answers,omitempty"`
	ExpiresAt  time.Time              `db:"expires_at" json:"expires_at"`
	AnsweredAt *time.Time             `db:"answered_at" json:"answered_at,omitempty"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
}

// SkillImportJobStatus is the lifecycle state of a SkillImportJob.
type SkillImportJobStatus string

const (
	SkillImportQueued  SkillImportJobStatus = "queued"
	SkillImportRunning SkillImportJobStatus = "running"
	SkillImportSuccess SkillImportJobStatus = "success"
	SkillImportFailed  SkillImportJobStatus = "failed"
)

// SkillImportJob is a background import of a skill archive.
type SkillImportJob struct {
	ID         string               `db:"id" json:"id"`
	UserID     string               `db:"user_id" json:"user_id"`
	ArchiveKey string               `db:"archive_key" json:"archive_key"`
	Selections json.RawMessage      `db:"selections" json:"selections,omitempty"`
	Status     SkillImportJobStatus `db:"status" json:"status"`
	Progress   int                  `db:"progress" json:"progress"`
	Result     json.RawMessage      `db:"result" json:"result,omitempty"`
	Error      string               `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time            `db:"updated_at" json:"updated_at"`
}

// UsageLog is an append-only record of one terminal ResultMessage's usage.
type UsageLog struct {
	ID            int64           `db:"id" json:"id"`
	SessionID     string          `db:"session_id" json:"session_id"`
	RunID         *string         `db:"run_id" json:"run_id,omitempty"`
	TotalCostUSD  float64         `db:"total_cost_usd" json:"total_cost_usd"`
	DurationMs    int64           `db:"duration_ms" json:"duration_ms"`
	Usage         json.RawMessage `db:"usage" json:"usage,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// PresetKind distinguishes MCP presets from skill presets.
type PresetKind string

const (
	PresetMCP   PresetKind = "mcp"
	PresetSkill PresetKind = "skill"
)

// Preset is a named reusable config template referenced by `$ref: "preset:<name>"`.
type Preset struct {
	ID             string          `db:"id" json:"id"`
	Kind           PresetKind      `db:"kind" json:"kind"`
	Name           string          `db:"name" json:"name"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	Transport      string          `db:"transport" json:"transport,omitempty"`
	Entry          string          `db:"entry" json:"entry,omitempty"`
	DefaultConfig  json.RawMessage `db:"default_config" json:"default_config,omitempty"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// EnvVar is a user-scoped key/value pair substituted into `${env:NAME}`.
type EnvVar struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value,omitempty"`
	IsSecret  bool      `db:"is_secret" json:"is_secret"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SlashCommand is a user-defined `/name` command staged into a session's
// workspace as `.claude_data/commands/<name>.md` before dispatch.
type SlashCommand struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	Name        string    `db:"name" json:"name"`
	Body        string    `db:"body" json:"body"`
	Description string    `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
