// Package apperr defines the error taxonomy shared by server and
// client: validation failures, precondition failures, missing entities
// and transport unavailability.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError marks malformed or self-referential input. The
// offending operation has no side effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// PreconditionError marks an operation attempted before its
// prerequisites held, e.g. a gateway command before join. Treated as a
// logged no-op, never fatal.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition for %s: %s", e.Op, e.Reason)
}

// NotFoundError marks an absent target entity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// TransportError wraps a network or session failure. The client sync
// engine absorbs these by falling back to the local cache.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}
