// Package apierror defines BunBase's HTTP error taxonomy (spec §7) and the
// JSON envelope every handler error is rendered through.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Code names one of the abstract error kinds from the taxonomy.
type Code string

const (
	CodeNotFound        Code = "not_found"
	CodeBadRequest      Code = "bad_request"
	CodeValidationError Code = "validation_failed"
	CodeUnauthorized    Code = "unauthorized"
	CodeForbidden       Code = "forbidden"
	CodeConflict        Code = "conflict"
	CodeHookCancelled   Code = "hook_cancelled"
	CodeInternal        Code = "internal"
)

var statusByCode = map[Code]int{
	CodeNotFound:        http.StatusNotFound,
	CodeBadRequest:      http.StatusBadRequest,
	CodeValidationError: http.StatusBadRequest,
	CodeUnauthorized:    http.StatusUnauthorized,
	CodeForbidden:       http.StatusForbidden,
	CodeConflict:        http.StatusConflict,
	CodeHookCancelled:   http.StatusBadRequest,
	CodeInternal:        http.StatusInternalServerError,
}

// FieldError is one entry of a ValidationFailed error's data map.
type FieldError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error is the shape every apierror-returning call produces. It implements
// the standard error interface and carries everything the HTTP layer needs
// to render the {code, message, data} envelope from spec §4.10.
type Error struct {
	Kind    Code                  `json:"-"`
	Message string                `json:"message"`
	Data    map[string]FieldError `json:"data,omitempty"`

	// cause, when set, is revealed only when the server runs in dev mode
	// (spec §4.10 / §6.5).
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code the taxonomy maps this kind to.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithCause attaches an underlying error for dev-mode disclosure without
// changing the kind, message, or status of e.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Data: e.Data, cause: cause}
}

// WithData attaches field-level detail to e without changing its kind,
// message, or cause.
func (e *Error) WithData(data map[string]FieldError) *Error {
	return &Error{Kind: e.Kind, Message: e.Message, Data: data, cause: e.cause}
}

// Cause returns the underlying error, if one was attached.
func (e *Error) Cause() error { return e.cause }

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) *Error {
	return &Error{Kind: CodeBadRequest, Message: fmt.Sprintf(format, args...)}
}

// ValidationFailed builds a field-level validation error. data maps field
// name to its violation.
func ValidationFailed(data map[string]FieldError) *Error {
	return &Error{Kind: CodeValidationError, Message: "validation failed", Data: data}
}

func Unauthorized(format string, args ...any) *Error {
	return &Error{Kind: CodeUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// HookCancelled wraps a before-hook's thrown message (spec §4.6, §7).
func HookCancelled(message string) *Error {
	return &Error{Kind: CodeHookCancelled, Message: message}
}

func Internal(cause error) *Error {
	return &Error{Kind: CodeInternal, Message: "internal server error", cause: cause}
}

// As reports whether err is (or wraps) an *Error, returning it if so.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// envelope is the wire shape from spec §4.10: {code, message, data}.
type envelope struct {
	Code    Code                  `json:"code"`
	Message string                `json:"message"`
	Data    map[string]FieldError `json:"data,omitempty"`
}

// WriteJSON renders err as the spec's JSON error envelope. devMode controls
// whether an *Internal* error's underlying cause is revealed verbatim
// (spec §4.10, §6.5) instead of a generic message.
func WriteJSON(w http.ResponseWriter, err error, devMode bool) {
	apiErr, ok := As(err)
	if !ok {
		apiErr = Internal(err)
	}

	message := apiErr.Message
	if apiErr.Kind == CodeInternal && devMode && apiErr.cause != nil {
		message = apiErr.cause.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(envelope{
		Code:    apiErr.Kind,
		Message: message,
		Data:    apiErr.Data,
	})
}
