package services

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of outcomes a points operation can fail with.
type Kind int

const (
	// KindInternal covers store and infrastructure failures. It is never produced by a business rule.
	KindInternal Kind = iota
	KindUnauthorized
	KindNotFound
	KindValidation
	KindInvalidState
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	case KindInvalidState:
		return "invalid_state"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Error is a business rule failure. Op names the operation that rejected the call.
type Error struct {
	Kind    Kind
	Op      string
	Message string
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func newError(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

func unauthorized(op string) error {
	return newError(KindUnauthorized, op, "not allowed")
}

func notFound(op, what string) error {
	return newError(KindNotFound, op, "%s not found", what)
}

func invalid(op, format string, args ...interface{}) error {
	return newError(KindValidation, op, format, args...)
}

func invalidState(op, format string, args ...interface{}) error {
	return newError(KindInvalidState, op, format, args...)
}

func conflict(op, format string, args ...interface{}) error {
	return newError(KindConflict, op, format, args...)
}

// KindOf returns the kind carried by err, or KindInternal for anything that is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// Message returns the caller-facing text of a business error, or a generic text for internal ones.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}
