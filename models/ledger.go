package models

import (
	"gorm.io/gorm"
)

// CapacityLedger is the authoritative per-accommodation counter row. It is
// only ever written inside an admission transaction holding its row lock,
// and can always be rebuilt by counting BookingRequest rows.
type CapacityLedger struct {
	gorm.Model
	ID              int64 `json:"id"`
	AccommodationID int64 `json:"accommodation_id" gorm:"uniqueIndex"`
	ApprovedCount   int64 `json:"approved_count"`
	PendingCount    int64 `json:"pending_count"`
	TotalCount      int64 `json:"total_count"`
}
