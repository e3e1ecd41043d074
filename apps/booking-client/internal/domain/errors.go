package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Transition errors
	ErrForbidden     = errors.New("action not allowed")
	ErrUnknownAction = errors.New("unknown action")
	ErrUnknownStatus = errors.New("unknown booking status")

	// Session errors
	ErrUnknownRole = errors.New("unknown role")

	// Booking errors
	ErrBookingNotFound  = errors.New("booking not found")
	ErrInvalidBookingID = errors.New("invalid booking id")
	ErrInvalidWorkerID  = errors.New("invalid worker id")
	ErrInvalidServiceID = errors.New("invalid service id")
	ErrInvalidSchedule  = errors.New("invalid booking date or time")

	// Review errors
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

// TransitionError reports a rejected (status, action, role) triple
type TransitionError struct {
	From   Status
	Action Action
	Role   Role
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s may not %s a %s booking", e.Role, e.Action, e.From)
}

// Is makes TransitionError match ErrForbidden
func (e *TransitionError) Is(target error) bool {
	return target == ErrForbidden
}
