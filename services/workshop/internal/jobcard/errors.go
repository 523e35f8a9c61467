package jobcard

import (
	"errors"
	"fmt"

	"github.com/workshopkit/workshop/pkg/enums/role"
)

var (
	ErrReadOnly          = errors.New("job card is completed and read-only")
	ErrForbidden         = errors.New("action not permitted for this role")
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrSessionExpired    = errors.New("session expired")
)

// ValidationError is a locally detected precondition failure. It is always
// raised before any remote call and never leaves state modified.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

func forbidden(action string, minimum role.Role) error {
	return fmt.Errorf("%w: %s requires %s or above", ErrForbidden, action, minimum.Name)
}

// DetailCaptureRequired is returned when a line item cannot be attached until
// its catalog-declared details are supplied.
type DetailCaptureRequired struct {
	Decision Decision
}

func (e *DetailCaptureRequired) Error() string {
	return fmt.Sprintf("details required before adding %q (%s)", e.Decision.Name, e.Decision.Via)
}

// PartialCompletionError reports a job that was completed remotely but whose
// invoice could not be created. The completion stands.
type PartialCompletionError struct {
	JobID string
	Err   error
}

func (e *PartialCompletionError) Error() string {
	return fmt.Sprintf("job %s completed but invoice was not created: %v", e.JobID, e.Err)
}

func (e *PartialCompletionError) Unwrap() error {
	return e.Err
}
