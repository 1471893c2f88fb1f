// Package core defines the fundamental types and errors for the responsibility tracker.
package core

import (
	"errors"
	"fmt"
)

// Core errors that can occur across the system
var (
	// Responsibility errors
	ErrResponsibilityNotFound = errors.New("responsibility not found")
	ErrChecklistItemNotFound  = errors.New("checklist item not found")
	ErrInvalidTransition      = errors.New("invalid status transition")

	// Collaborator errors
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotConfigured    = errors.New("not configured")

	// Scheduling errors
	ErrNoAvailableSlot  = errors.New("no available slot")
	ErrScheduleConflict = errors.New("schedule conflict")

	// Storage errors
	ErrPersistenceWrite = errors.New("persistence write failed")
	ErrRecordNotFound   = errors.New("record not found")

	// Invariant violations
	ErrInvalidState = errors.New("invalid state")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)

// ConflictError reports two active commitments whose assumed intervals overlap.
type ConflictError struct {
	A, B string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("schedule conflict between %s and %s", e.A, e.B)
}

func (e *ConflictError) Unwrap() error { return ErrScheduleConflict }

// PersistenceError wraps a failed snapshot write. The in-memory state stays
// authoritative and the next mutation retries the write.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistenceWrite, e.Err} }

// InvalidStateError is a broken lifecycle invariant. It signals a
// programming error, never a user-facing condition.
type InvalidStateError struct {
	ID     string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state for %s: %s", e.ID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
