// Package cmerrors provides structured error handling for the connector with
// error categorization, key-value context, and automatic stack capture.
//
// Every error crossing a package boundary carries an ErrorType so callers can
// distinguish "fix your configuration" from "try again later" from "this
// system cannot be diagnosed with current support" without string matching.
//
// Credentials never appear in error messages or details; errors reference
// credential identity (the credential ref), not content.
package cmerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error, used to drive retry decisions
// and surface the right remediation to callers.
type ErrorType string

const (
	// ErrorTypeConfig represents configuration errors; fatal, never retried
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnection represents transport-level errors; retryable per policy
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeAuthentication represents credential rejection; fatal, never retried
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeVersionMismatch represents an unsupported backend release
	ErrorTypeVersionMismatch ErrorType = "version_mismatch"
	// ErrorTypeTimeout represents operation timeouts; retryable up to the policy cap
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeCircuitOpen represents a fast-failed call while the breaker is open
	ErrorTypeCircuitOpen ErrorType = "circuit_open"
	// ErrorTypeExtraction represents a data-shape problem after a successful connection
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeDecryption represents a credential record that failed authenticated decryption
	ErrorTypeDecryption ErrorType = "decryption"
	// ErrorTypeValidation represents input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePool represents pool exhaustion or acquire timeouts
	ErrorTypePool ErrorType = "pool"
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Error is a structured error with category, context and cause.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithSystem records the target system id the error belongs to
func (e *Error) WithSystem(systemID string) *Error {
	return e.WithDetail("system_id", systemID)
}

// WithOperation records the operation that produced the error
func (e *Error) WithOperation(op string) *Error {
	return e.WithDetail("operation", op)
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. The original stack is
// preserved when the cause is already a structured error.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsRetryable returns true if the error is transport-class and worth another
// attempt. Authentication, configuration and validation failures are never
// retryable.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	switch e.Type {
	case ErrorTypeConnection, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// TypeOf returns the type of a structured error, or ErrorTypeInternal for
// plain errors.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// captureStack captures the current call stack
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
