// Package errors provides structured error handling for deanslist-sync.
//
// Every failure that can abort a run is categorized by ErrorType so the
// top-level guard can log it with full context and the reporter can name
// the failure class in the notification.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeTransport represents a failed source fetch (bad status, timeout, malformed JSON)
	ErrorTypeTransport ErrorType = "transport"
	// ErrorTypeSchema represents a fetched record that lacks a field the target table requires
	ErrorTypeSchema ErrorType = "schema"
	// ErrorTypePersistence represents a failed delete or insert against the warehouse
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeConfig represents configuration errors, including tenant selection problems
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeNotify represents a failure to deliver a run notification
	ErrorTypeNotify ErrorType = "notify"
)

// Error represents a structured error with context
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

// DetailString renders the details as a stable "k=v" list, used in failure notifications.
func (e *Error) DetailString() string {
	if len(e.Details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return strings.Join(parts, " ")
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Transport builds a TransportError for a tenant/entity fetch.
func Transport(tenant, entity string, cause error) *Error {
	e := &Error{
		Type:    ErrorTypeTransport,
		Message: "source fetch failed",
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail("tenant", tenant).WithDetail("entity", entity)
}

// Schema builds a SchemaError for a record that cannot be mapped onto its table.
func Schema(entity, message string) *Error {
	e := &Error{
		Type:    ErrorTypeSchema,
		Message: message,
		Stack:   captureStack(2),
	}
	return e.WithDetail("entity", entity)
}

// Persistence builds a PersistenceError for a failed warehouse statement.
func Persistence(cause error, table, phase string) *Error {
	e := &Error{
		Type:    ErrorTypePersistence,
		Message: phase + " failed",
		Cause:   cause,
		Stack:   captureStack(2),
	}
	return e.WithDetail("table", table).WithDetail("phase", phase)
}

// Configuration builds a ConfigurationError.
func Configuration(message string) *Error {
	return &Error{
		Type:    ErrorTypeConfig,
		Message: message,
		Stack:   captureStack(2),
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

// TypeOf returns the outermost ErrorType in the chain, or ErrorTypeInternal
// for errors that were never categorized.
func TypeOf(err error) ErrorType {
	var e *Error
	if !errors.As(err, &e) {
		return ErrorTypeInternal
	}
	return e.Type
}

// As is re-exported so callers do not need both errors packages.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is re-exported so callers do not need both errors packages.
func Is(err, target error) bool {
	return errors.Is(err, target)
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
