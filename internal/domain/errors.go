package domain

import (
	"errors"
	"fmt"
)

// Common errors used throughout the application.
var (
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrCorruptState       = errors.New("corrupt stack state")
)

// EngineError wraps a failure surfaced by the provisioning engine with
// the stack and operation it occurred on. The underlying engine message
// is preserved for diagnostics.
type EngineError struct {
	Stack string
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s on stack %q: %v", e.Op, e.Stack, e.Err)
}

// Unwrap returns the underlying engine failure.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError wraps err as an EngineError carrying the stack and
// operation context. Unwrap keeps the chain intact, so errors.Is still
// matches sentinels buried in the wrapped failure.
func NewEngineError(stack, op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Stack: stack, Op: op, Err: err}
}

// APIError represents an error response from the API.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}
