// Package apperrors defines the typed error-kind taxonomy shared by the
// backend, executor-manager, and executor HTTP surfaces. Every handler-facing
// error response uses the uniform {success, code, message, data, details}
// envelope built from a *Error here rather than ad hoc string matching.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a specific error kind across the three binaries.
type Code string

const (
	CodeNotFound              Code = "NOT_FOUND"
	CodeForbidden             Code = "FORBIDDEN"
	CodeBadRequest            Code = "BAD_REQUEST"
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeLeaseLost             Code = "LEASE_LOST"
	CodeEnvVarNotFound        Code = "ENV_VAR_NOT_FOUND"
	CodeMCPPresetNotFound     Code = "MCP_PRESET_NOT_FOUND"
	CodeSkillPresetNotFound   Code = "SKILL_PRESET_NOT_FOUND"
	CodeSlashCommandNotFound  Code = "SLASH_COMMAND_NOT_FOUND"
	CodeSkillDownloadFailed   Code = "SKILL_DOWNLOAD_FAILED"
	CodeWorkspaceNotFound     Code = "WORKSPACE_NOT_FOUND"
	CodeWorkspaceArchiveFailed Code = "WORKSPACE_ARCHIVE_FAILED"
	CodeWorkspaceDeleteFailed Code = "WORKSPACE_DELETE_FAILED"
	CodeCallbackForwardFailed Code = "CALLBACK_FORWARD_FAILED"
	CodeSessionCreateFailed   Code = "SESSION_CREATE_FAILED"
	CodeTaskNotFound          Code = "TASK_NOT_FOUND"
	CodeTaskSchedulingFailed  Code = "TASK_SCHEDULING_FAILED"
	CodeBackendUnavailable    Code = "BACKEND_UNAVAILABLE"
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// httpStatus maps each Code to the HTTP status its envelope should carry.
var httpStatus = map[Code]int{
	CodeNotFound:               http.StatusNotFound,
	CodeForbidden:              http.StatusForbidden,
	CodeBadRequest:             http.StatusBadRequest,
	CodeInvalidInput:           http.StatusUnprocessableEntity,
	CodeLeaseLost:              http.StatusConflict,
	CodeEnvVarNotFound:         http.StatusUnprocessableEntity,
	CodeMCPPresetNotFound:      http.StatusUnprocessableEntity,
	CodeSkillPresetNotFound:    http.StatusUnprocessableEntity,
	CodeSlashCommandNotFound:   http.StatusUnprocessableEntity,
	CodeSkillDownloadFailed:    http.StatusBadGateway,
	CodeWorkspaceNotFound:      http.StatusNotFound,
	CodeWorkspaceArchiveFailed: http.StatusInternalServerError,
	CodeWorkspaceDeleteFailed:  http.StatusInternalServerError,
	CodeCallbackForwardFailed:  http.StatusBadGateway,
	CodeSessionCreateFailed:    http.StatusInternalServerError,
	CodeTaskNotFound:           http.StatusNotFound,
	CodeTaskSchedulingFailed:   http.StatusInternalServerError,
	CodeBackendUnavailable:     http.StatusServiceUnavailable,
	CodeExternalServiceError:   http.StatusBadGateway,
	CodeInternal:               http.StatusInternalServerError,
}

// Error is the typed error carried through the system. Code selects the HTTP
// status and the envelope's machine-checkable "code" field; Data carries
// extra structured context (e.g. the missing env var name); the unexported
// cause holds a wrapped error, which RespondError never puts in the envelope.
type Error struct {
	Code    Code
	Message string
	Data    map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	if s, ok := httpStatus[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs a typed Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs a typed Error wrapping an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithData attaches structured context to the error and returns it.
func (e *Error) WithData(data map[string]any) *Error {
	e.Data = data
	return e
}

// As extracts an *Error from err, following the unwrap chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the Code of err if it (or something it wraps) is an *Error,
// otherwise CodeInternal.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeInternal
}

func NotFound(msg string) *Error            { return New(CodeNotFound, msg) }
func Forbidden(msg string) *Error           { return New(CodeForbidden, msg) }
func BadRequest(msg string) *Error          { return New(CodeBadRequest, msg) }
func InvalidInput(msg string) *Error        { return New(CodeInvalidInput, msg) }
func LeaseLost(msg string) *Error           { return New(CodeLeaseLost, msg) }
func Internal(msg string, cause error) *Error {
	return Wrap(CodeInternal, msg, cause)
}
