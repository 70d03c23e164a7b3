package engine

import "fmt"

// FieldError describes one field-level validation failure.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

// ValidationError rejects data before any SQL is built.
type ValidationError struct {
	Details []FieldError `json:"details"`
}

func (e *ValidationError) Error() string {
	if len(e.Details) == 1 {
		return "validation failed: " + e.Details[0].Message
	}
	return fmt.Sprintf("validation failed (%d errors)", len(e.Details))
}

// PermissionError is an authorization denial. It carries the evaluated
// context so callers can log exactly what was refused.
type PermissionError struct {
	Entity string `json:"entity"`
	Action string `json:"action"`
	UserID string `json:"user_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied: %s on %s", e.Action, e.Entity)
	if e.UserID != "" {
		msg += " for user " + e.UserID
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// EntityNotFoundError is raised by update/delete when the target row does not
// exist (or is hidden by row restrictions). Read paths return nil instead.
type EntityNotFoundError struct {
	Entity string `json:"entity"`
	ID     any    `json:"id"`
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s with id %v not found", e.Entity, e.ID)
}

// DatabaseError wraps an adapter-level failure with the operation and entity
// for higher-layer logging and retry decisions. Distinguishable from
// authorization and validation failures, which are never retryable.
type DatabaseError struct {
	Op     string
	Entity string
	Tenant string
	Err    error
}

func (e *DatabaseError) Error() string {
	msg := fmt.Sprintf("database error in %s", e.Op)
	if e.Entity != "" {
		msg += " on " + e.Entity
	}
	if e.Tenant != "" {
		msg += " (tenant " + e.Tenant + ")"
	}
	return msg + ": " + e.Err.Error()
}

func (e *DatabaseError) Unwrap() error { return e.Err }
