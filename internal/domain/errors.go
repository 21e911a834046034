package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrEngineFailure     = errors.New("engine failure")
	ErrTimeout           = errors.New("timeout")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrCancelled         = errors.New("cancelled")
	ErrConflict          = errors.New("conflict")
)

// ErrorCode is the stable failure category recorded on a failed job and
// surfaced through the status endpoints.
type ErrorCode string

const (
	ErrorCodeNone              ErrorCode = ""
	ErrorCodeInvalidInput      ErrorCode = "invalid_input"
	ErrorCodeEngineFailure     ErrorCode = "engine_failure"
	ErrorCodeTimeout           ErrorCode = "timeout"
	ErrorCodeResourceExhausted ErrorCode = "resource_exhausted"
	ErrorCodeCancelled         ErrorCode = "cancelled"
)

// CodeForError maps a sentinel (or wrapped sentinel) to its job error code.
func CodeForError(err error) ErrorCode {
	switch {
	case err == nil:
		return ErrorCodeNone
	case errors.Is(err, ErrInvalidInput):
		return ErrorCodeInvalidInput
	case errors.Is(err, ErrTimeout):
		return ErrorCodeTimeout
	case errors.Is(err, ErrCancelled):
		return ErrorCodeCancelled
	case errors.Is(err, ErrResourceExhausted):
		return ErrorCodeResourceExhausted
	default:
		return ErrorCodeEngineFailure
	}
}
