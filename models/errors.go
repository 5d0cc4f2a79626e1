package models

import "fmt"

// ValidationError: bad input, rejected before any row is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError: unknown accommodation or booking request. Also returned
// when an accommodation is not accepting bookings, so callers cannot probe
// hidden listings.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// InvalidStateError: the requested transition is not legal from the current
// status.
type InvalidStateError struct {
	Status BookingStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s a booking in status %q", e.Op, e.Status)
}

// AlreadyDecidedError: the request left pending before this decision landed.
// Carries the current status so a retrying admin sees what won.
type AlreadyDecidedError struct {
	Status BookingStatus
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("booking already decided, current status %q", e.Status)
}

// CapacityExceededError: the approval lost a race for the last slot. Kept
// distinct from validation failures so the UI can say "slot no longer
// available" instead of a generic error.
type CapacityExceededError struct {
	AccommodationID int64
	MaxBookings     int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf(
		"accommodation %d is at capacity (%d bookings)",
		e.AccommodationID, e.MaxBookings,
	)
}
