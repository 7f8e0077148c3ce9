// Package apperrors provides the hub's standardized error taxonomy.
//
// Every failure path in the hub — handshake rejection, permission
// check, envelope rewrite, broker publish — returns one of the seven
// kinds named in SPEC_FULL.md §7. Each kind carries both an HTTP status
// (for the REST surface) and a WebSocket close code (for the
// handshake), so a single error value can answer either transport.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category.
type Kind string

const (
	InvalidArgument  Kind = "INVALID_ARGUMENT"
	Unauthenticated  Kind = "UNAUTHENTICATED"
	PermissionDenied Kind = "PERMISSION_DENIED"
	Conflict         Kind = "CONFLICT"
	NotFound         Kind = "NOT_FOUND"
	Closed           Kind = "CLOSED"
	Internal         Kind = "INTERNAL"
)

// WebSocket close codes used by the handshake (SPEC_FULL.md §6).
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseUnsupportedData = 1003
	CloseInternalError   = 1011
	ClosePolicyViolation = 1008
	CloseTryAgainLater   = 1013
)

// HTTPStatus returns the HTTP status code that best represents k.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidArgument:
		return http.StatusBadRequest
	case Unauthenticated:
		return http.StatusUnauthorized
	case PermissionDenied:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case Closed:
		return http.StatusGone
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CloseCode returns the WebSocket close code that best represents k.
func (k Kind) CloseCode() int {
	switch k {
	case InvalidArgument:
		return CloseUnsupportedData
	case Unauthenticated, PermissionDenied:
		return CloseInternalError
	case Conflict:
		return CloseInternalError
	case NotFound:
		return CloseInternalError
	case Closed:
		return CloseNormal
	case Internal:
		return CloseInternalError
	default:
		return CloseInternalError
	}
}

// AppError is a structured application error with transport context.
type AppError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates an AppError of the given kind.
func New(kind Kind, message string) *AppError {
	return &AppError{Kind: kind, Message: message}
}

// Newf creates an AppError of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying error as Details.
func Wrap(kind Kind, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &AppError{Kind: kind, Message: message, Details: details}
}

// As extracts the *AppError from err if it is (or wraps) one,
// defaulting to an Internal error when it does not.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return &AppError{Kind: Internal, Message: "internal error", Details: err.Error()}
}

// HandshakeReply is the JSON error frame sent on handshake failure
// (SPEC_FULL.md §6): {"error": reason, "success": false}.
type HandshakeReply struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// Common constructors, mirroring the shape of the kind they produce.

func InvalidArgumentf(format string, args ...any) *AppError {
	return Newf(InvalidArgument, format, args...)
}

func Unauthenticatedf(format string, args ...any) *AppError {
	return Newf(Unauthenticated, format, args...)
}

func PermissionDeniedf(format string, args ...any) *AppError {
	return Newf(PermissionDenied, format, args...)
}

func Conflictf(format string, args ...any) *AppError {
	return Newf(Conflict, format, args...)
}

func NotFoundf(format string, args ...any) *AppError {
	return Newf(NotFound, format, args...)
}

func Closedf(format string, args ...any) *AppError {
	return Newf(Closed, format, args...)
}

func Internalf(format string, args ...any) *AppError {
	return Newf(Internal, format, args...)
}
