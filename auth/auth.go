// Package auth implements credentials, refresh sessions and role based
// authorization for administrator, therapist and patient accounts.
package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// Version of the auth package
const Version = "3.0.0"

// ErrorKind classifies an AuthError. The HTTP layer maps kinds to status codes.
type ErrorKind string

const (
	KindUnauthorized       ErrorKind = "UNAUTHORIZED"
	KindForbidden          ErrorKind = "FORBIDDEN"
	KindNotFound           ErrorKind = "NOT_FOUND"
	KindConflict           ErrorKind = "CONFLICT"
	KindServiceUnavailable ErrorKind = "SERVICE_UNAVAILABLE"
	KindInternal           ErrorKind = "INTERNAL"
	KindBadRequest         ErrorKind = "BAD_REQUEST"
)

// Status returns the HTTP status code for the kind.
func (k ErrorKind) Status() int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// AuthError represents authentication/authorization errors
type AuthError struct {
	Type    ErrorKind `json:"type"`
	Message string    `json:"message"`
	Code    int       `json:"-"`
	// Missing lists the permissions a Forbidden decision was missing.
	Missing []string `json:"missing,omitempty"`
	Err     error    `json:"-"`
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches any AuthError of the same kind, so errors.Is(err, ErrForbidden)
// holds for every forbidden decision.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Type == e.Type
}

// Kind sentinels for errors.Is.
var (
	ErrUnauthorized       = &AuthError{Type: KindUnauthorized, Message: "Unauthorized", Code: http.StatusUnauthorized}
	ErrForbidden          = &AuthError{Type: KindForbidden, Message: "Forbidden", Code: http.StatusForbidden}
	ErrNotFound           = &AuthError{Type: KindNotFound, Message: "Not found", Code: http.StatusNotFound}
	ErrConflict           = &AuthError{Type: KindConflict, Message: "Conflict", Code: http.StatusConflict}
	ErrServiceUnavailable = &AuthError{Type: KindServiceUnavailable, Message: "Service unavailable", Code: http.StatusServiceUnavailable}
	ErrInternal           = &AuthError{Type: KindInternal, Message: "Internal error", Code: http.StatusInternalServerError}
	ErrBadRequest         = &AuthError{Type: KindBadRequest, Message: "Bad request", Code: http.StatusBadRequest}
)

// Common auth errors
var (
	ErrMissingToken       = NewAuthError(KindUnauthorized, "Authorization header required")
	ErrMalformedHeader    = NewAuthError(KindUnauthorized, "Authorization header must use the Bearer scheme")
	ErrInvalidCredentials = NewAuthError(KindUnauthorized, "Invalid email or password")
	ErrInvalidRefresh     = NewAuthError(KindUnauthorized, "invalid or expired refresh token")
)

// Token verification failures. The middleware turns both into Unauthorized.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

// NewAuthError creates an auth error of the given kind.
func NewAuthError(kind ErrorKind, message string) *AuthError {
	return &AuthError{
		Type:    kind,
		Message: message,
		Code:    kind.Status(),
	}
}

func Unauthorized(message string) *AuthError { return NewAuthError(KindUnauthorized, message) }

func Forbidden(message string, missing ...string) *AuthError {
	e := NewAuthError(KindForbidden, message)
	e.Missing = missing
	return e
}

func NotFound(message string) *AuthError   { return NewAuthError(KindNotFound, message) }
func Conflict(message string) *AuthError   { return NewAuthError(KindConflict, message) }
func BadRequest(message string) *AuthError { return NewAuthError(KindBadRequest, message) }

// ServiceUnavailable wraps a storage or dependency failure.
func ServiceUnavailable(message string, cause error) *AuthError {
	e := NewAuthError(KindServiceUnavailable, message)
	e.Err = cause
	return e
}

func Internal(cause error) *AuthError {
	e := NewAuthError(KindInternal, "Internal error")
	e.Err = cause
	return e
}

// AsAuthError returns err as an *AuthError. Token verification errors become
// Unauthorized and anything else becomes Internal.
func AsAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr
	}
	switch {
	case errors.Is(err, ErrTokenExpired):
		return Unauthorized("token expired")
	case errors.Is(err, ErrTokenInvalid):
		return Unauthorized("invalid token")
	}
	return Internal(err)
}
