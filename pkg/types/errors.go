package types

import (
	"errors"
	"fmt"
)

// Failure categories for operations that reach the store. Such a failure
// matches at most one of these with errors.Is. Rejected input matches one
// of the validation errors below instead, and lifecycle misuse matches
// ErrDetached or ErrAlreadyAttached.
var (
	ErrNotFound      = errors.New("entity not found")
	ErrConflict      = errors.New("conflicting entity already exists")
	ErrOrphanParent  = errors.New("parent no longer exists")
	ErrSerialization = errors.New("payload serialization failed")
	ErrStore         = errors.New("store failure")
)

// Input validation errors.
var (
	ErrInvalidKind   = errors.New("invalid entity kind")
	ErrInvalidID     = errors.New("invalid entity ID")
	ErrInvalidData   = errors.New("invalid entity data")
	ErrInvalidPolicy = errors.New("invalid restore policy")
	ErrSelfLink      = errors.New("relationship endpoints must differ")
)

// OpError records the operation and entity a failure belongs to, so
// callers can report or retry without parsing messages.
type OpError struct {
	Op  string
	Ref Ref
	Err error
}

func (e *OpError) Error() string {
	if e.Ref.IsZero() {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }
