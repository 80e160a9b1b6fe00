// Package fault defines the typed error taxonomy shared across all runtime
// components. Failures cross component boundaries as *Error values, never
// through panics.
package fault

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code from a closed set.
type Code string

const (
	CodeBudgetExceeded    Code = "BUDGET_EXCEEDED"
	CodeToolNotAllowed    Code = "TOOL_NOT_ALLOWED"
	CodeToolHallucination Code = "TOOL_HALLUCINATION"
	CodeApprovalRequired  Code = "APPROVAL_REQUIRED"
	CodeProviderError     Code = "PROVIDER_ERROR"
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeSession           Code = "SESSION_ERROR"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodeToolExecution     Code = "TOOL_EXECUTION_ERROR"
	CodeAborted           Code = "ABORTED"
	CodeTimeout           Code = "TIMEOUT"
	CodeStreamIncomplete  Code = "STREAM_INCOMPLETE"
	CodeMaxTurnsExceeded  Code = "MAX_TURNS_EXCEEDED"
	CodeConfig            Code = "CONFIG_ERROR"
	CodeTaskNotFound      Code = "TASK_NOT_FOUND"
)

// statusCodes maps each code to its HTTP status per the API contract.
var statusCodes = map[Code]int{
	CodeBudgetExceeded:    429,
	CodeToolNotAllowed:    403,
	CodeToolHallucination: 400,
	CodeApprovalRequired:  403,
	CodeProviderError:     502,
	CodeValidation:        400,
	CodeSession:           500,
	CodeRateLimitExceeded: 429,
	CodeToolExecution:     500,
	CodeAborted:           499,
	CodeTimeout:           504,
	CodeStreamIncomplete:  502,
	CodeMaxTurnsExceeded:  500,
	CodeConfig:            400,
	CodeTaskNotFound:      404,
}

// Error is a typed failure value.
type Error struct {
	// Code is the machine-readable error code.
	Code Code `json:"code"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// StatusCode is the HTTP status associated with the code. Providers may
	// override it with the upstream status (e.g., 503 for a server error).
	StatusCode int `json:"status_code"`

	// Context carries structured details about the failure.
	Context map[string]any `json:"context,omitempty"`

	// Cause is the wrapped underlying error, if any.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCodes[code],
	}
}

// Wrap creates an Error wrapping cause. A nil cause behaves like New.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Cause = cause
	return e
}

// With attaches a context key/value pair and returns the error.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithStatus overrides the HTTP status code and returns the error.
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code Code) bool {
	if fe, ok := As(err); ok {
		return fe.Code == code
	}
	return false
}

// CodeOf returns err's code, or the empty code when err carries none.
func CodeOf(err error) Code {
	if fe, ok := As(err); ok {
		return fe.Code
	}
	return ""
}

// StatusOf returns the HTTP status for err, defaulting to 500.
func StatusOf(err error) int {
	if fe, ok := As(err); ok && fe.StatusCode != 0 {
		return fe.StatusCode
	}
	return 500
}
