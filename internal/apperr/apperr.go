// Package apperr defines the error taxonomy shared by the ledger, tenancy
// and claims packages. Every error leaving an operation boundary is either
// an *Error or an unexpected infrastructure failure.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transport layers.
type Kind string

const (
	// KindValidation marks malformed input or a rule violation. Never retried.
	KindValidation Kind = "validation"
	// KindAuthorization marks tenant or ownership mismatches.
	KindAuthorization Kind = "authorization"
	// KindConflict marks a competing write, e.g. a duplicate active claim.
	KindConflict Kind = "conflict"
	// KindNotFound marks a missing record inside the caller's tenant.
	KindNotFound Kind = "not_found"
	// KindIntegrity marks an unexpected persistence constraint violation.
	KindIntegrity Kind = "integrity"
	// KindInternal is returned by KindOf for errors outside the taxonomy.
	KindInternal Kind = "internal"
)

// GenericMessage is shown to callers in place of integrity and internal causes.
const GenericMessage = "could not complete the request"

// Error is a classified, user-facing error. Code is a stable machine
// readable identifier such as "transaction_voided".
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values by kind and code so sentinel values can be
// compared with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New builds a classified error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds a classified error carrying cause.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(code, message string) *Error { return New(KindValidation, code, message) }

// Authorization is shorthand for New(KindAuthorization, ...).
func Authorization(code, message string) *Error { return New(KindAuthorization, code, message) }

// Conflict is shorthand for New(KindConflict, ...).
func Conflict(code, message string) *Error { return New(KindConflict, code, message) }

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(code, message string) *Error { return New(KindNotFound, code, message) }

// Integrity wraps a persistence-layer constraint violation.
func Integrity(code string, cause error) *Error {
	return Wrap(KindIntegrity, code, "integrity constraint violated", cause)
}

// KindOf reports the kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf reports the code of err, or "" when err is unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Public returns the message safe to show to an end user. Integrity and
// unclassified errors collapse to GenericMessage; their cause stays in logs.
func Public(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return GenericMessage
	}
	switch e.Kind {
	case KindIntegrity, KindInternal:
		return GenericMessage
	default:
		return e.Message
	}
}

// HTTPStatus maps err to the status code used by the API layer.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict, KindIntegrity:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
