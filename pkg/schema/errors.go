package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeInvalidWorkflowFile = "INVALID_WORKFLOW_FILE"
	ErrCodeIO                  = "IO_ERROR"
	ErrCodeTimeout             = "PROVIDER_TIMEOUT"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeNoPeer              = "NO_PEER_CONNECTED"
	ErrCodePeerReplaced        = "PEER_REPLACED"
	ErrCodeAlreadyRunning      = "ALREADY_RUNNING"
	ErrCodeServerStopped       = "SERVER_STOPPED"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeExecution           = "EXECUTION_ERROR"
)

// BridgeError is the structured error type for all bridge operations.
type BridgeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new BridgeError.
func NewError(code, message string) *BridgeError {
	return &BridgeError{Code: code, Message: message}
}

// NewErrorf creates a new BridgeError with a formatted message.
func NewErrorf(code, format string, args ...any) *BridgeError {
	return &BridgeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause attaches an underlying cause.
func (e *BridgeError) WithCause(err error) *BridgeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *BridgeError) WithDetails(details map[string]any) *BridgeError {
	e.Details = details
	return e
}

// IsCode reports whether err is a BridgeError carrying the given code.
func IsCode(err error, code string) bool {
	var be *BridgeError
	return errors.As(err, &be) && be.Code == code
}

// ErrorCode extracts the code from a BridgeError, or ErrCodeExecution
// for any other error.
func ErrorCode(err error) string {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrCodeExecution
}
