package models

import (
	"time"

	"gorm.io/gorm"
)

type BookingStatus string

const (
	PENDING   BookingStatus = "pending"
	APPROVED  BookingStatus = "approved"
	REJECTED  BookingStatus = "rejected"
	CANCELLED BookingStatus = "cancelled"
	CONFIRMED BookingStatus = "confirmed"
	OVERDUE   BookingStatus = "overdue"
)

// transitions is the exhaustive legal transition table. Statuses with no
// entry are terminal. overdue keeps its slot until an admin releases it,
// which is modelled as overdue -> rejected.
var transitions = map[BookingStatus][]BookingStatus{
	PENDING:  {APPROVED, REJECTED, CANCELLED},
	APPROVED: {CONFIRMED, OVERDUE},
	OVERDUE:  {REJECTED},
}

// CanTransitionTo reports whether s -> next is a legal status change.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s BookingStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// HoldsSlot reports whether a request in status s consumes approved capacity.
// overdue retains the slot until explicitly released.
func (s BookingStatus) HoldsSlot() bool {
	return s == APPROVED || s == CONFIRMED || s == OVERDUE
}

type BookingRequest struct {
	gorm.Model
	ID              int64         `json:"id"`
	ReferenceCode   string        `json:"reference_code"   gorm:"uniqueIndex"`
	AccommodationID int64         `json:"accommodation_id" validate:"required"`
	RequesterID     int64         `json:"requester_id"     validate:"required"`
	CheckIn         time.Time     `json:"check_in"         validate:"future-date"`
	CheckOut        time.Time     `json:"check_out"        validate:"gtfield=CheckIn"`
	NumberOfGuests  int64         `json:"number_of_guests" validate:"gte=1"`
	Status          BookingStatus `json:"status"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	DecidedBy       *int64        `json:"decided_by,omitempty"`
	PaymentDeadline *time.Time    `json:"payment_deadline,omitempty"`
}
