package services

import (
	"context"

	"github.com/stayport/booking-service/models"
)

type OccupancyBucket string

const (
	BUCKET_AVAILABLE OccupancyBucket = "available"
	BUCKET_HIGH      OccupancyBucket = "high"
	BUCKET_CRITICAL  OccupancyBucket = "critical"
	BUCKET_FULL      OccupancyBucket = "full"
)

// OccupancySnapshot is derived on every read and never persisted.
type OccupancySnapshot struct {
	AccommodationID int64           `json:"accommodation_id"`
	MaxBookings     int64           `json:"max_bookings"`
	ApprovedCount   int64           `json:"approved_count"`
	PendingCount    int64           `json:"pending_count"`
	AvailableSlots  int64           `json:"available_slots"`
	OccupancyRate   float64         `json:"occupancy_rate"`
	StatusBucket    OccupancyBucket `json:"status_bucket"`
	OverbookedBy    int64           `json:"overbooked_by"`
}

// ProjectOccupancy is a pure function of a ledger snapshot. OverbookedBy is
// reported even though the admission path prevents it, to surface rows
// edited behind the service's back.
func ProjectOccupancy(ledger *models.CapacityLedger, maxBookings int64) OccupancySnapshot {
	snap := OccupancySnapshot{
		AccommodationID: ledger.AccommodationID,
		MaxBookings:     maxBookings,
		ApprovedCount:   ledger.ApprovedCount,
		PendingCount:    ledger.PendingCount,
	}
	if maxBookings > 0 {
		snap.OccupancyRate = float64(ledger.ApprovedCount) / float64(maxBookings) * 100
	} else if ledger.ApprovedCount > 0 {
		snap.OccupancyRate = 100
	}
	snap.AvailableSlots = maxBookings - ledger.ApprovedCount
	if snap.AvailableSlots < 0 {
		snap.AvailableSlots = 0
	}
	snap.OverbookedBy = ledger.ApprovedCount - maxBookings
	if snap.OverbookedBy < 0 {
		snap.OverbookedBy = 0
	}
	switch {
	case snap.OccupancyRate >= 100:
		snap.StatusBucket = BUCKET_FULL
	case snap.OccupancyRate >= 80:
		snap.StatusBucket = BUCKET_CRITICAL
	case snap.OccupancyRate >= 60:
		snap.StatusBucket = BUCKET_HIGH
	default:
		snap.StatusBucket = BUCKET_AVAILABLE
	}
	return snap
}

// Stats resolves the accommodation and projects its current occupancy.
func (s *Server) Stats(ctx context.Context, accommodationID int64) (*OccupancySnapshot, error) {
	acc, err := s.accommodation(ctx, accommodationID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.Ledger(ctx, accommodationID)
	if err != nil {
		return nil, err
	}
	snap := ProjectOccupancy(ledger, acc.MaxBookings)
	return &snap, nil
}
