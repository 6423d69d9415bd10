package appointment

import (
	"errors"
	"fmt"
)

// Error kinds crossing stage boundaries. Stores and stages wrap these with
// fmt.Errorf so callers can switch with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrOperation  = errors.New("operation failed")
)

var (
	ErrAppointmentNotFound     = fmt.Errorf("appointment %w", ErrNotFound)
	ErrAppointmentExists       = fmt.Errorf("appointment id already exists: %w", ErrConflict)
	ErrScheduleAlreadyBooked   = fmt.Errorf("schedule slot already has an active appointment: %w", ErrConflict)
	ErrInvalidStatusTransition = fmt.Errorf("invalid status transition: %w", ErrValidation)
	ErrStaleStatus             = errors.New("appointment status changed concurrently")
)

// CountryMismatchError is raised when an event reaches the processor of another
// country. It is a permanent validation failure.
type CountryMismatchError struct {
	Expected Country
	Got      Country
}

func (e *CountryMismatchError) Error() string {
	return fmt.Sprintf("country mismatch: processor %s received %q", e.Expected, e.Got)
}

func (e *CountryMismatchError) Is(target error) bool {
	return target == ErrValidation
}
