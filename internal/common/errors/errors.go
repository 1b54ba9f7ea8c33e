// Package errors provides standardized error handling for the assignment engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Dispatch errors
	ErrCodeNoCapacity     ErrorCode = "NO_CAPACITY"
	ErrCodeAgentNotFound  ErrorCode = "AGENT_NOT_FOUND"
	ErrCodeTaskNotFound   ErrorCode = "TASK_NOT_FOUND"
	ErrCodeEntityNotFound ErrorCode = "ENTITY_NOT_FOUND"

	// Lifecycle errors
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeTaskTerminal      ErrorCode = "TASK_TERMINAL"
	ErrCodeChecklistInvalid  ErrorCode = "CHECKLIST_INVALID"

	// Persistence errors
	ErrCodeStalePersistence ErrorCode = "STALE_PERSISTENCE"
	ErrCodeDatabaseFailed   ErrorCode = "DATABASE_OPERATION_FAILED"

	// Configuration errors
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Integrity errors
	ErrCodeHistoryQueryFailed ErrorCode = "HISTORY_QUERY_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Is allows errors.Is matching on the error code.
func (e *StandardError) Is(target error) bool {
	var se *StandardError
	if errors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or empty string for foreign errors.
func CodeOf(err error) ErrorCode {
	var se *StandardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNoCapacity reports whether err is a NO_CAPACITY dispatch outcome.
func IsNoCapacity(err error) bool {
	return CodeOf(err) == ErrCodeNoCapacity
}

// IsInvalidTransition reports whether err is a state-machine violation.
func IsInvalidTransition(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTransition
}

// NewNoCapacityError creates a retryable no-eligible-agent error.
func NewNoCapacityError(role string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoCapacity,
		Message:   "No eligible agent available",
		Details:   fmt.Sprintf("role: %s", role),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError creates a non-retryable state-machine violation error.
func NewInvalidTransitionError(taskID, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Invalid task state transition",
		Details:   fmt.Sprintf("taskId: %s, from: %s, to: %s", taskID, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskTerminalError creates a non-retryable terminal-state mutation error.
func NewTaskTerminalError(taskID, state string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskTerminal,
		Message:   "Task is in a terminal state",
		Details:   fmt.Sprintf("taskId: %s, state: %s", taskID, state),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewChecklistInvalidError creates a non-retryable checklist validation error.
func NewChecklistInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeChecklistInvalid,
		Message:   "Checklist responses failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStalePersistenceError creates a retryable write-conflict error.
func NewStalePersistenceError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStalePersistence,
		Message:   "Write conflict during claim",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseError creates a retryable database operation error.
func NewDatabaseError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseFailed,
		Message:   "Database operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigInvalidError creates a non-retryable configuration error.
// Misconfigured thresholds are rejected at load time, never clamped.
func NewConfigInvalidError(field, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigInvalid,
		Message:   "Invalid configuration value",
		Details:   fmt.Sprintf("field: %s, %s", field, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewHistoryQueryFailedError creates a retryable history-lookup error. The
// monitor logs these and skips the rule rather than failing the caller.
func NewHistoryQueryFailedError(rule string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeHistoryQueryFailed,
		Message:   "Event history query failed",
		Details:   fmt.Sprintf("rule: %s, error: %s", rule, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAgentNotFoundError creates a non-retryable missing-agent error.
func NewAgentNotFoundError(agentID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAgentNotFound,
		Message:   "Agent not found",
		Details:   fmt.Sprintf("agentId: %s", agentID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTaskNotFoundError creates a non-retryable missing-task error.
func NewTaskNotFoundError(taskID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTaskNotFound,
		Message:   "Task not found",
		Details:   fmt.Sprintf("taskId: %s", taskID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEntityNotFoundError creates a non-retryable missing-entity error.
func NewEntityNotFoundError(kind, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEntityNotFound,
		Message:   fmt.Sprintf("%s not found", kind),
		Details:   fmt.Sprintf("id: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	switch code {
	case ErrCodeNoCapacity, ErrCodeStalePersistence, ErrCodeDatabaseFailed, ErrCodeHistoryQueryFailed:
		return true
	}
	return false
}
