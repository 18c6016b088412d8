// Package errors defines the stable error codes kgindex surfaces to
// operators and HTTP clients.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// EntityNotFound indicates the requested entity id is not in the live snapshot
	EntityNotFound ErrorCode = "ENTITY_NOT_FOUND"
	// QueryInvalid indicates a malformed or empty query parameter
	QueryInvalid ErrorCode = "QUERY_INVALID"
	// SnapshotMissing indicates no committed snapshot exists yet
	SnapshotMissing ErrorCode = "SNAPSHOT_MISSING"
	// RebuildFailed indicates a pipeline-level failure; the live snapshot is unchanged
	RebuildFailed ErrorCode = "REBUILD_FAILED"
	// IndexLocked indicates another process holds the state directory lock
	IndexLocked ErrorCode = "INDEX_LOCKED"
	// SemanticUnavailable indicates the embedding collaborator could not answer
	SemanticUnavailable ErrorCode = "SEMANTIC_UNAVAILABLE"
	// Unauthorized indicates a missing or wrong admin token
	Unauthorized ErrorCode = "UNAUTHORIZED"
	// ConfigInvalid indicates the configuration failed validation
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// InternalError indicates unexpected error
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// FixActionType represents the type of fix action
type FixActionType string

const (
	// RunCommand suggests running a command
	RunCommand FixActionType = "run-command"
	// EditConfig suggests changing a configuration key
	EditConfig FixActionType = "edit-config"
)

// FixAction represents a suggested fix for an error
type FixAction struct {
	Type        FixActionType `json:"type"`
	Command     string        `json:"command,omitempty"`
	Key         string        `json:"key,omitempty"`
	Safe        bool          `json:"safe,omitempty"`
	Description string        `json:"description,omitempty"`
}

// KgError represents a kgindex error with code, message, and suggestions
type KgError struct {
	Code           ErrorCode   `json:"code"`
	Message        string      `json:"message"`
	Details        interface{} `json:"details,omitempty"`
	SuggestedFixes []FixAction `json:"suggestedFixes,omitempty"`
	cause          error
}

// New creates a KgError with the default suggested fixes for its code.
func New(code ErrorCode, message string, cause error) *KgError {
	return &KgError{
		Code:           code,
		Message:        message,
		SuggestedFixes: GetSuggestedFixes(code),
		cause:          cause,
	}
}

// Newf is New with a formatted message and no cause.
func Newf(code ErrorCode, format string, args ...interface{}) *KgError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Error implements the error interface
func (e *KgError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *KgError) Unwrap() error {
	return e.cause
}

// WithDetails adds details to the error
func (e *KgError) WithDetails(details interface{}) *KgError {
	e.Details = details
	return e
}

// Is matches another KgError by code so errors.Is(err, errors.New(code, "", nil)) works.
func (e *KgError) Is(target error) bool {
	t, ok := target.(*KgError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first KgError in err's chain, or InternalError.
func CodeOf(err error) ErrorCode {
	var kgErr *KgError
	if stderrors.As(err, &kgErr) {
		return kgErr.Code
	}
	return InternalError
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	var kgErr *KgError
	for err != nil {
		if !stderrors.As(err, &kgErr) {
			return false
		}
		if kgErr.Code == code {
			return true
		}
		err = kgErr.cause
	}
	return false
}

// ErrorActions maps error codes to suggested fix actions
var ErrorActions = map[ErrorCode][]FixAction{
	SnapshotMissing: {
		{
			Type:        RunCommand,
			Command:     "kgindex rebuild",
			Safe:        true,
			Description: "Build the first graph snapshot",
		},
	},
	IndexLocked: {
		{
			Type:        RunCommand,
			Command:     "kgindex status",
			Safe:        true,
			Description: "Check which process holds the index lock",
		},
	},
	RebuildFailed: {
		{
			Type:        RunCommand,
			Command:     "kgindex backups",
			Safe:        true,
			Description: "List backups; the previous snapshot is still served",
		},
	},
	SemanticUnavailable: {
		{
			Type:        EditConfig,
			Key:         "semantic.endpoint",
			Description: "Point semantic search at a reachable embedding service",
		},
	},
	Unauthorized: {
		{
			Type:        RunCommand,
			Command:     "kgindex token",
			Safe:        true,
			Description: "Generate an admin token and configure server.adminTokenHash",
		},
	},
}

// GetSuggestedFixes returns suggested fixes for an error code
func GetSuggestedFixes(code ErrorCode) []FixAction {
	if fixes, ok := ErrorActions[code]; ok {
		return fixes
	}
	return nil
}
