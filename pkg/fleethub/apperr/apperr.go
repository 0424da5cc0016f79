// Package apperr defines the typed error taxonomy the core returns to
// its callers. The HTTP layer maps kinds to status codes; the core never
// emits status codes itself.
package apperr

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Kind classifies an error for the calling layer.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindValidation
	KindDuplicateKey
	KindConflict
	KindForbidden
)

// Error is a classified error with the offending ids/fields attached
// where known, so callers can drive retry logic.
type Error struct {
	Kind    Kind
	Message string
	Details []string
	cause   error
}

func (e *Error) Error() string {
	if len(e.Details) > 0 {
		return e.Message + ": " + strings.Join(e.Details, ", ")
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// NotFound reports an absent user/device/assignment.
func NotFound(msg string, details ...string) *Error {
	return &Error{Kind: KindNotFound, Message: msg, Details: details}
}

// Validation reports a malformed id, missing field, or malformed batch.
func Validation(msg string, details ...string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Details: details}
}

// DuplicateKey reports a unique-constraint collision.
func DuplicateKey(msg string, details ...string) *Error {
	return &Error{Kind: KindDuplicateKey, Message: msg, Details: details}
}

// Conflict reports a device already owned, whether caught by pre-check
// or by a raced commit.
func Conflict(msg string, details ...string) *Error {
	return &Error{Kind: KindConflict, Message: msg, Details: details}
}

// Forbidden reports a policy denial.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// Internal wraps an unexpected storage or runtime failure. The cause is
// kept for logging but never serialized outward.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// KindOf returns the Kind carried by err, or KindInternal for anything
// unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is lets errors.Is match two classified errors by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// FromDB re-classifies a storage error at the transaction boundary.
// Record-not-found becomes NotFound and a unique violation becomes
// DuplicateKey; anything else is surfaced as Internal so raw driver
// errors never leak to callers.
func FromDB(err error, msg string, details ...string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound(msg, details...)
	}
	if isDuplicate(err) {
		return DuplicateKey(msg, details...)
	}
	return Internal(msg, err)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// TranslateError covers sqlite and postgres, but older driver paths
	// still surface the raw constraint message.
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") ||
		strings.Contains(s, "duplicate key value")
}
