// Package errors defines the structured error type shared by the
// infrastructure layers (config, storage, cache, HTTP) of laminate.
//
// Template-level failures have their own concrete types in the laminate
// packages; they are wrapped in an AppError only when they cross into the
// service layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType classifies an AppError
type ErrorType string

const (
	// ErrTypeConnection is a failure talking to Redis or a database
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation is bad input from a caller
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig is an invalid or missing setting
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth is a rejected credential
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeNotFound is a missing template or record
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal is anything unexpected
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout is an operation that ran past its deadline
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeRateLimit is a request rejected by a limiter
	ErrTypeRateLimit ErrorType = "rate_limit"
	// ErrTypeTemplate is a template that failed to render
	ErrTypeTemplate ErrorType = "template"
	// ErrTypeSyntax is a template whose delimiters could not be parsed
	ErrTypeSyntax ErrorType = "syntax"
)

// AppError is a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface. Context keys are sorted so the
// output is stable.
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s=%v", k, e.Context[k])
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(pairs, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair and returns the same error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func newError(t ErrorType, msg string, cause error) *AppError {
	return &AppError{Type: t, Message: msg, Cause: cause}
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return newError(ErrTypeConnection, msg, cause)
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return newError(ErrTypeValidation, msg, nil)
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return newError(ErrTypeConfig, msg, nil)
}

// AuthError creates a new authentication error
func AuthError(msg string) *AppError {
	return newError(ErrTypeAuth, msg, nil)
}

// NotFoundError creates a new not found error for the named resource
func NotFoundError(resource string) *AppError {
	return newError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return newError(ErrTypeInternal, msg, cause)
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return newError(ErrTypeTimeout, fmt.Sprintf("timeout during %s", operation), nil)
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string) *AppError {
	return newError(ErrTypeRateLimit, fmt.Sprintf("rate limit exceeded for %s", resource), nil)
}

// TemplateError wraps a render failure of the named template
func TemplateError(name string, cause error) *AppError {
	return newError(ErrTypeTemplate, fmt.Sprintf("template %q failed to render", name), cause).
		WithContext("template", name)
}

// SyntaxError wraps a delimiter parse failure of the named template
func SyntaxError(name string, cause error) *AppError {
	return newError(ErrTypeSyntax, fmt.Sprintf("template %q has invalid syntax", name), cause).
		WithContext("template", name)
}

// GetType returns the type of the first AppError in err's chain, or
// ErrTypeInternal when there is none. A nil error has no type.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	var appErr *AppError
	if !stderrors.As(err, &appErr) {
		return ErrTypeInternal
	}
	return appErr.Type
}
