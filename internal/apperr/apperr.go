// Package apperr defines the protocol failure kinds and their client-facing mapping.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a protocol failure.
type Kind int

const (
	// KindUnknown covers writes that reported failure without a store error, and unclassified errors.
	KindUnknown Kind = iota
	// KindInvalidField marks a request field that failed validation.
	KindInvalidField
	// KindUserExists marks account creation for a taken username.
	KindUserExists
	// KindUnauthorized marks missing, malformed or incorrect credentials.
	KindUnauthorized
	// KindStoreFailure marks an error returned by the backing store.
	KindStoreFailure
)

const internalServerErrorMessage = "INTERNAL_SERVER_ERROR"

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindInvalidField:
		return "invalid_field"
	case KindUserExists:
		return "user_exists"
	case KindUnauthorized:
		return "unauthorized"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

// Error is a classified protocol failure.
type Error struct {
	kind      Kind
	subject   string
	operation string
	err       error
}

func (e *Error) Error() string {
	switch e.kind {
	case KindInvalidField:
		return fmt.Sprintf("invalid field: %s", e.subject)
	case KindUserExists:
		return fmt.Sprintf("user exists: %s", e.subject)
	case KindUnauthorized:
		return "unauthorized"
	}
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.operation, e.subject)
	}
	return fmt.Sprintf("%s: %v", e.operation, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the failure classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Field returns the offending field name for KindInvalidField.
func (e *Error) Field() string {
	if e.kind != KindInvalidField {
		return ""
	}
	return e.subject
}

// Operation returns the operation code recorded for server-side failures.
func (e *Error) Operation() string {
	return e.operation
}

// InvalidField reports that the named field failed validation.
func InvalidField(name string) error {
	return &Error{kind: KindInvalidField, subject: name}
}

// UserExists reports that username is already registered.
func UserExists(username string) error {
	return &Error{kind: KindUserExists, subject: username}
}

// Unauthorized reports a failed credential check.
func Unauthorized() error {
	return &Error{kind: KindUnauthorized}
}

// StoreFailure wraps an error returned by the store during operation.
func StoreFailure(operation string, cause error) error {
	return &Error{kind: KindStoreFailure, operation: operation, err: cause}
}

// Unknown reports a failure without an underlying store error.
func Unknown(operation, message string) error {
	return &Error{kind: KindUnknown, operation: operation, subject: message}
}

// KindOf classifies err; errors not produced by this package are KindUnknown.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindUnknown
}

// IsServerSide reports whether err maps to a 500-class response.
func IsServerSide(err error) bool {
	switch KindOf(err) {
	case KindStoreFailure, KindUnknown:
		return true
	default:
		return false
	}
}

// Response returns the HTTP status and the client-facing message for err.
// Server-side failures never expose internal detail.
func Response(err error) (int, string) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError, internalServerErrorMessage
	}
	switch appErr.kind {
	case KindInvalidField:
		return http.StatusBadRequest, "INVALID_FIELD: " + appErr.subject
	case KindUserExists:
		return http.StatusConflict, "USER_EXISTS: " + appErr.subject
	case KindUnauthorized:
		return http.StatusUnauthorized, "UNAUTHORIZED"
	default:
		return http.StatusInternalServerError, internalServerErrorMessage
	}
}
