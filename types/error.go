package types

import "fmt"

// ErrorCode represents a unified error code across the call pipeline.
type ErrorCode string

// Stage error codes (transient, absorbed by the budget enforcer).
const (
	ErrStageTimeout     ErrorCode = "STAGE_TIMEOUT"
	ErrStageUnavailable ErrorCode = "STAGE_UNAVAILABLE"
	ErrStageCancelled   ErrorCode = "STAGE_CANCELLED"
)

// Carrier error codes (always terminal for the session).
const (
	ErrCarrierDisconnected ErrorCode = "CARRIER_DISCONNECTED"
	ErrCarrierNoAudio      ErrorCode = "CARRIER_NO_AUDIO"
	ErrCarrierWrite        ErrorCode = "CARRIER_WRITE"
)

// Session error codes.
const (
	ErrPolicyGap        ErrorCode = "POLICY_GAP"
	ErrSessionFinalized ErrorCode = "SESSION_FINALIZED"
	ErrAudioCorrupted   ErrorCode = "AUDIO_CORRUPTED"
	ErrInternal         ErrorCode = "INTERNAL"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Stage     string    `json:"stage,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithStage records the pipeline stage the error originated from.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsCarrierError reports whether the error is a terminal carrier failure.
func IsCarrierError(err error) bool {
	switch GetErrorCode(err) {
	case ErrCarrierDisconnected, ErrCarrierNoAudio, ErrCarrierWrite:
		return true
	}
	return false
}
