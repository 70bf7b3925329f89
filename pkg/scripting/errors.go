package scripting

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies a scripting failure.
type ErrorCode string

const (
	// CodeBackendUnavailable means the backend library, its factory symbol or
	// the interpreter bring-up failed. Fatal to the requested session.
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// CodeGuestExecution means guest code raised a parse or runtime fault.
	// The caller may retry with different source.
	CodeGuestExecution ErrorCode = "GUEST_EXECUTION"

	// CodeUnknownType means GetAs was asked for a host type that was never
	// registered. Fix by adding a RegisterType call, do not retry.
	CodeUnknownType ErrorCode = "UNKNOWN_TYPE"

	// CodeBadCast means the guest object is not of (or derived from) the
	// registered guest type.
	CodeBadCast ErrorCode = "BAD_CAST"

	// CodeDiscoveryNotFound means no plugin class was found in a guest file.
	CodeDiscoveryNotFound ErrorCode = "DISCOVERY_NOT_FOUND"

	// CodeDiscoveryAmbiguous means more than one plugin class was found.
	CodeDiscoveryAmbiguous ErrorCode = "DISCOVERY_AMBIGUOUS"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrBackendUnavailable = &Error{Code: CodeBackendUnavailable}
	ErrGuestExecution     = &Error{Code: CodeGuestExecution}
	ErrUnknownType        = &Error{Code: CodeUnknownType}
	ErrBadCast            = &Error{Code: CodeBadCast}
	ErrDiscoveryNotFound  = &Error{Code: CodeDiscoveryNotFound}
	ErrDiscoveryAmbiguous = &Error{Code: CodeDiscoveryAmbiguous}
)

var (
	// ErrEngineClosed is returned by calls on a finalized engine.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrBackendInUse is returned when a second live instance of a
	// process-wide backend is requested.
	ErrBackendInUse = errors.New("backend already has a live interpreter in this process")

	// ErrInertValue is returned when a released or moved-from value is used.
	ErrInertValue = errors.New("value is inert (released or moved)")
)

// Error is a classified scripting error carrying enough context to tell the
// user which backend, guest file and class were involved.
// nolint:revive // Error is intentionally generic within this package
type Error struct {
	// Code is the error classification.
	Code ErrorCode `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Backend is the logical backend name.
	Backend string `json:"backend,omitempty"`

	// File is the guest source file involved, if any.
	File string `json:"file,omitempty"`

	// Class is the guest class involved, if any.
	Class string `json:"class,omitempty"`

	// Path is the shared library path for loader failures.
	Path string `json:"path,omitempty"`

	// Symbol is the factory symbol for loader failures.
	Symbol string `json:"symbol,omitempty"`

	// Err is the underlying cause.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	b.WriteString(e.Message)

	var ctx []string
	if e.Backend != "" {
		ctx = append(ctx, "backend="+e.Backend)
	}
	if e.File != "" {
		ctx = append(ctx, "file="+e.File)
	}
	if e.Class != "" {
		ctx = append(ctx, "class="+e.Class)
	}
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if e.Symbol != "" {
		ctx = append(ctx, "symbol="+e.Symbol)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewBackendUnavailableError creates a backend unavailable error.
func NewBackendUnavailableError(backend, message string, err error) *Error {
	return &Error{
		Code:    CodeBackendUnavailable,
		Message: message,
		Backend: backend,
		Err:     err,
	}
}

// NewGuestExecutionError creates a guest execution error.
func NewGuestExecutionError(backend, message string, err error) *Error {
	return &Error{
		Code:    CodeGuestExecution,
		Message: message,
		Backend: backend,
		Err:     err,
	}
}

// NewUnknownTypeError creates an unknown type error.
func NewUnknownTypeError(backend, typeName string) *Error {
	return &Error{
		Code:    CodeUnknownType,
		Message: fmt.Sprintf("host type %s has no registered guest type name", typeName),
		Backend: backend,
	}
}

// NewBadCastError creates a bad cast error.
func NewBadCastError(backend, message string, err error) *Error {
	return &Error{
		Code:    CodeBadCast,
		Message: message,
		Backend: backend,
		Err:     err,
	}
}

// NewDiscoveryError creates a discovery error for a match count other than one.
func NewDiscoveryError(backend, file string, found []string) *Error {
	if len(found) == 0 {
		return &Error{
			Code:    CodeDiscoveryNotFound,
			Message: "no measure class found (found 0)",
			Backend: backend,
			File:    file,
		}
	}
	return &Error{
		Code:    CodeDiscoveryAmbiguous,
		Message: fmt.Sprintf("expected exactly one measure class, found %d: %s", len(found), strings.Join(found, ", ")),
		Backend: backend,
		File:    file,
		Details: map[string]interface{}{"classes": found},
	}
}

// WithFile adds guest file context to an error.
func (e *Error) WithFile(file string) *Error {
	e.File = file
	return e
}

// WithClass adds guest class context to an error.
func (e *Error) WithClass(class string) *Error {
	e.Class = class
	return e
}

// WithLibrary adds shared library context to an error.
func (e *Error) WithLibrary(path, symbol string) *Error {
	e.Path = path
	e.Symbol = symbol
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Annotate attaches file and class context to a scripting error found in
// err's chain without changing its code. Other errors are returned unchanged.
func Annotate(err error, file, class string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	if e.File == "" {
		e.File = file
	}
	if e.Class == "" {
		e.Class = class
	}
	return err
}

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsBackendUnavailable reports whether err is a backend unavailable error.
func IsBackendUnavailable(err error) bool { return hasCode(err, CodeBackendUnavailable) }

// IsGuestExecution reports whether err is a guest execution error.
func IsGuestExecution(err error) bool { return hasCode(err, CodeGuestExecution) }

// IsUnknownType reports whether err is an unknown type error.
func IsUnknownType(err error) bool { return hasCode(err, CodeUnknownType) }

// IsBadCast reports whether err is a bad cast error.
func IsBadCast(err error) bool { return hasCode(err, CodeBadCast) }

// IsDiscoveryError reports whether err is a discovery not-found or ambiguous error.
func IsDiscoveryError(err error) bool {
	return hasCode(err, CodeDiscoveryNotFound) || hasCode(err, CodeDiscoveryAmbiguous)
}

// IsRecoverable returns true if the caller can recover by changing its input:
// guest execution faults and bad casts.
func IsRecoverable(err error) bool {
	return IsGuestExecution(err) || IsBadCast(err)
}

// CodeOf returns the code of the first scripting error in err's chain, or ""
// when there is none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
