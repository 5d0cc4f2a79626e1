package services

import (
	"context"
	"errors"

	"github.com/go-kit/log/level"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stayport/booking-service/db"
	"github.com/stayport/booking-service/models"
)

// ensureLedger creates the per-accommodation ledger row if it does not
// exist yet. Safe under concurrent callers: the unique index on
// accommodation_id makes the insert a no-op for the loser.
func ensureLedger(tx *gorm.DB, accommodationID int64) error {
	return tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.CapacityLedger{AccommodationID: accommodationID}).Error
}

// lockLedger takes the row lock that serializes every mutation for one
// accommodation. All admission transactions acquire this lock first, so
// there is a single lock order and no deadlock between decide and cancel.
func lockLedger(tx *gorm.DB, accommodationID int64) (*models.CapacityLedger, error) {
	var ledger models.CapacityLedger
	res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(&models.CapacityLedger{AccommodationID: accommodationID}).
		First(&ledger)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		if err := ensureLedger(tx, accommodationID); err != nil {
			return nil, err
		}
		res = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(&models.CapacityLedger{AccommodationID: accommodationID}).
			First(&ledger)
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &ledger, nil
}

// applyDelta adjusts one counter field. Only called from inside an
// admission transaction that holds the ledger row lock.
func applyDelta(tx *gorm.DB, accommodationID int64, field string, delta int64) error {
	return tx.Model(&models.CapacityLedger{}).
		Where("accommodation_id = ?", accommodationID).
		Update(field, gorm.Expr(field+" + ?", delta)).Error
}

// Ledger returns the current counters for an accommodation. Reads are
// served without locking; the row may lag an in-flight decision.
func (s *Server) Ledger(ctx context.Context, accommodationID int64) (*models.CapacityLedger, error) {
	var ledger models.CapacityLedger
	res := db.DB.WithContext(ctx).
		Where(&models.CapacityLedger{AccommodationID: accommodationID}).
		First(&ledger)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		// no requests yet, report zeroes
		return &models.CapacityLedger{AccommodationID: accommodationID}, nil
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &ledger, nil
}

// RecomputeLedger rebuilds the counters from BookingRequest rows and
// repairs any drift. The booking rows are the source of truth; the ledger
// is never trusted over them.
func (s *Server) RecomputeLedger(ctx context.Context, accommodationID int64) (*models.CapacityLedger, error) {
	var ledger *models.CapacityLedger
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		ledger, err = lockLedger(tx, accommodationID)
		if err != nil {
			return err
		}

		var approved, pending, total int64
		if err := tx.Model(&models.BookingRequest{}).
			Where("accommodation_id = ? AND status IN ?", accommodationID,
				[]models.BookingStatus{models.APPROVED, models.CONFIRMED, models.OVERDUE}).
			Count(&approved).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.BookingRequest{}).
			Where("accommodation_id = ? AND status = ?", accommodationID, models.PENDING).
			Count(&pending).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.BookingRequest{}).
			Where("accommodation_id = ?", accommodationID).
			Count(&total).Error; err != nil {
			return err
		}

		if ledger.ApprovedCount == approved &&
			ledger.PendingCount == pending &&
			ledger.TotalCount == total {
			return nil
		}

		level.Warn(s.Logger).Log(
			"msg", "capacity ledger drift, repairing",
			"accommodation_id", accommodationID,
			"approved_count", ledger.ApprovedCount, "approved_actual", approved,
			"pending_count", ledger.PendingCount, "pending_actual", pending,
		)
		if s.Metrics != nil {
			s.Metrics.LedgerRepairs.Inc()
		}

		if err := tx.Model(ledger).Updates(map[string]interface{}{
			"approved_count": approved,
			"pending_count":  pending,
			"total_count":    total,
		}).Error; err != nil {
			return err
		}
		ledger.ApprovedCount = approved
		ledger.PendingCount = pending
		ledger.TotalCount = total
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ledger, nil
}
