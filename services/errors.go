package services

import "fmt"

// AuthorizationError: identity mismatch or missing reviewer privilege.
// Rejected before any read of mutable state.
type AuthorizationError struct {
	Reason string
}

func (e *AuthorizationError) Error() string {
	return "authorization: " + e.Reason
}

// ValidationError: malformed parameter, rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConflictError aborts a whole correction batch: stale version timestamps or
// geometries already owned by another user's pending correction. Carries the
// offending geometry ids so the caller can re-fetch and resubmit.
type ConflictError struct {
	GeometryIDs []int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %d geometries", len(e.GeometryIDs))
}

// NotFoundError: an id-addressed row does not exist.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// StateError: an audit transition attempted on a correction that already
// left pending.
type StateError struct {
	Kind   string
	ID     int64
	Status string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %d is %s, not pending", e.Kind, e.ID, e.Status)
}
