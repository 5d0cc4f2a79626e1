package models

import (
	"gorm.io/gorm"
)

type AdminStatus string

const (
	ADMIN_AVAILABLE     AdminStatus = "available"
	ADMIN_NOT_AVAILABLE AdminStatus = "not_available"
	ADMIN_COMING_SOON   AdminStatus = "coming_soon"
	ADMIN_MAINTENANCE   AdminStatus = "maintenance"
)

// Accommodation is the capacity owner. The row is synced from the catalog
// service; this service only reads it.
type Accommodation struct {
	gorm.Model
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	MaxBookings       int64       `json:"max_bookings"       validate:"gt=0"`
	GuestCapacity     int64       `json:"guest_capacity"     validate:"gt=0"`
	GenderRestriction string      `json:"gender_restriction"`
	PriceTerm         string      `json:"price_term"`
	AdminStatus       AdminStatus `json:"admin_status"`
}

// AcceptingBookings reports whether new requests may be submitted.
// not_available, coming_soon and maintenance all block submission.
func (a *Accommodation) AcceptingBookings() bool {
	return a.AdminStatus == ADMIN_AVAILABLE
}
