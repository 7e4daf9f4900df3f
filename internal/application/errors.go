package application

import (
	"errors"
	"fmt"

	"github.com/example/lab-booking/internal/persistence"
	"github.com/example/lab-booking/internal/schedule"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is the sentinel matched by ConflictError.
	ErrConflict = errors.New("application: schedule conflict")
	// ErrInvalidState is the sentinel matched by StateError.
	ErrInvalidState = errors.New("application: invalid state for operation")
	// ErrVersionMismatch is returned when an optimistic update lost a race;
	// the caller must retry with fresh state.
	ErrVersionMismatch = errors.New("application: version mismatch, retry with fresh state")
	// ErrOfferExpired is returned when an accept arrives at or after the
	// offer's expiry instant. The entry must re-join the waiting list.
	ErrOfferExpired = errors.New("application: offer expired, re-join the waiting list")
	// ErrApproverMissing is the sentinel matched by ApproverMissingError.
	ErrApproverMissing = errors.New("application: no active approver for required role")
)

// ValidationError captures field level validation issues that callers can
// surface to users. Validation runs before any conflict check.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ConflictError reports that a candidate interval overlaps an occupying
// booking or maintenance window. The conflicting occupant's interval and
// kind are exposed; its requester never is.
type ConflictError struct {
	ResourceID string
	Requested  schedule.Interval
	Conflict   schedule.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("interval [%s, %s) conflicts with %s [%s, %s) on resource %s",
		e.Requested.Start.Format("2006-01-02T15:04:05Z07:00"),
		e.Requested.End.Format("2006-01-02T15:04:05Z07:00"),
		e.Conflict.Kind,
		e.Conflict.Interval.Start.Format("2006-01-02T15:04:05Z07:00"),
		e.Conflict.Interval.End.Format("2006-01-02T15:04:05Z07:00"),
		e.ResourceID)
}

// Is lets errors.Is match ConflictError against ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StateError reports an operation that is invalid for the entity's current
// status, such as approving an already-rejected booking.
type StateError struct {
	Entity    string
	ID        string
	Operation string
	Status    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %s: cannot %s in status %q", e.Entity, e.ID, e.Operation, e.Status)
}

// Is lets errors.Is match StateError against ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ApproverMissingError reports an approval rule that requires a role with no
// active approver. This is an alertable configuration error, distinct from a
// normal pending wait.
type ApproverMissingError struct {
	RuleID string
	Role   string
}

func (e *ApproverMissingError) Error() string {
	return fmt.Sprintf("approval rule %s requires role %q which has no active approver", e.RuleID, e.Role)
}

// Is lets errors.Is match ApproverMissingError against ErrApproverMissing.
func (e *ApproverMissingError) Is(target error) bool {
	return target == ErrApproverMissing
}

// mapRepoError translates persistence sentinels into application errors.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrVersionMismatch):
		return ErrVersionMismatch
	case errors.Is(err, persistence.ErrDuplicate),
		errors.Is(err, persistence.ErrConstraintViolation),
		errors.Is(err, persistence.ErrForeignKeyViolation):
		vErr := &ValidationError{}
		vErr.add("request", "related records are missing or violate constraints")
		return vErr
	default:
		return err
	}
}
