// Package errors provides the structured error system used across vaultstore: error codes,
// categories, and component/operation context.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode identifies a failure cause that internal callers can branch on.
type ErrorCode string

// Error code constants grouped by category.
const (
	// Configuration
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Security
	ErrCodeSessionInvalid  ErrorCode = "SESSION_INVALID"
	ErrCodeSecurityLockout ErrorCode = "SECURITY_LOCKOUT"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"

	// Concurrency
	ErrCodeLockContended        ErrorCode = "LOCK_CONTENDED"
	ErrCodeTransactionNotActive ErrorCode = "TRANSACTION_NOT_ACTIVE"

	// Storage
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeFileExists         ErrorCode = "FILE_EXISTS"
	ErrCodeIOFailure          ErrorCode = "IO_FAILURE"
	ErrCodeCompressionFailed  ErrorCode = "COMPRESSION_FAILED"
	ErrCodeSnapshotFailed     ErrorCode = "SNAPSHOT_FAILED"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// State
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// Internal
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategorySecurity      ErrorCategory = "security"
	CategoryConcurrency   ErrorCategory = "concurrency"
	CategoryStorage       ErrorCategory = "storage"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

var categories = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:        CategoryConfiguration,
	ErrCodeConfigValidation:     CategoryConfiguration,
	ErrCodeConfigLoad:           CategoryConfiguration,
	ErrCodeSessionInvalid:       CategorySecurity,
	ErrCodeSecurityLockout:      CategorySecurity,
	ErrCodeRateLimited:          CategorySecurity,
	ErrCodeLockContended:        CategoryConcurrency,
	ErrCodeTransactionNotActive: CategoryConcurrency,
	ErrCodeNotFound:             CategoryStorage,
	ErrCodeFileExists:           CategoryStorage,
	ErrCodeIOFailure:            CategoryStorage,
	ErrCodeCompressionFailed:    CategoryStorage,
	ErrCodeSnapshotFailed:       CategoryStorage,
	ErrCodeBackendUnavailable:   CategoryStorage,
	ErrCodeInvalidState:         CategoryState,
	ErrCodeInternalError:        CategoryInternal,
}

// Error is a structured error with a code, category and operational context.
type Error struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	switch {
	case e.Component != "" && e.Operation != "":
		fmt.Fprintf(&b, "[%s:%s] ", e.Component, e.Operation)
	case e.Component != "":
		fmt.Fprintf(&b, "[%s] ", e.Component)
	}
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code, so errors.Is(err, errors.New(code, "")) works.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *Error) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("Error{%s}", strings.Join(parts, ", "))
}

// New creates an error for code with default category and retry hint.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Context:   make(map[string]string),
		Timestamp: time.Now(),
		Retryable: IsRetryableByDefault(code),
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an error for code that carries cause.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return New(code, message).WithCause(cause)
}

// GetCategory determines the category of code.
func GetCategory(code ErrorCode) ErrorCategory {
	if c, ok := categories[code]; ok {
		return c
	}
	return CategoryInternal
}

// IsRetryableByDefault reports whether a caller may reasonably retry an operation that
// failed with code.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeLockContended, ErrCodeRateLimited, ErrCodeBackendUnavailable:
		return true
	}
	return false
}

// CodeOf extracts the code from err, or ErrCodeInternalError when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternalError
}

// IsCode reports whether err (or anything it wraps) carries code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// IsSecurity reports whether err is a security failure that must surface to the caller
// (lockout or rate limiting).
func IsSecurity(err error) bool {
	code := CodeOf(err)
	return err != nil && (code == ErrCodeSecurityLockout || code == ErrCodeRateLimited)
}

// WithContext adds contextual information to an error.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}
