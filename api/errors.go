// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hiolink.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrClosed            = fmt.Errorf("connection is closed")
	ErrProviderClosed    = fmt.Errorf("io provider is closed")
	ErrSchedulerClosed   = fmt.Errorf("scheduler is closed")
	ErrNotSupported      = fmt.Errorf("operation not supported")
	ErrInvalidArgument   = fmt.Errorf("invalid argument")
	ErrAlreadyRegistered = fmt.Errorf("interest already registered")
	ErrNotRegistered     = fmt.Errorf("channel not registered")
	ErrPeerTimeout       = fmt.Errorf("peer heartbeat timeout")
	ErrFraming           = fmt.Errorf("framing violation")
	ErrUnknownPacketType = fmt.Errorf("%w: unknown packet type", ErrFraming)
	ErrFrameTooLarge     = fmt.Errorf("%w: frame too large", ErrFraming)
	ErrCallbackFailed    = fmt.Errorf("readiness callback failed repeatedly")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeFraming
	ErrCodeIO
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel the error was built from.
func (e *Error) Unwrap() error { return e.cause }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WrapError builds a structured error around cause.
func WrapError(code ErrorCode, cause error) *Error {
	e := NewError(code, cause.Error())
	e.cause = cause
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the ErrorCode carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}
