package services

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/stayport/booking-service/db"
	"github.com/stayport/booking-service/models"
	"github.com/stayport/booking-service/utils"
)

type Decision string

const (
	APPROVE Decision = "approve"
	REJECT  Decision = "reject"
)

// Server is the admission controller: the only component that mutates
// BookingRequest.status or the capacity ledger. Every mutation runs as one
// transaction that first takes the ledger row lock, so decisions on the
// same accommodation are serialized and decisions on different
// accommodations run in parallel.
type Server struct {
	Logger  log.Logger
	Metrics *Metrics
	tracer  trace.Tracer
}

func NewServer(logger log.Logger, metrics *Metrics) *Server {
	return &Server{
		Logger:  logger,
		Metrics: metrics,
		tracer:  otel.Tracer("booking/admission"),
	}
}

type SubmitRequest struct {
	AccommodationID int64
	RequesterID     int64
	CheckIn         time.Time
	CheckOut        time.Time
	NumberOfGuests  int64
}

// Submit validates and persists a new pending request. Capacity is not
// required at submission time: pending requests may exceed capacity and the
// admin triages them.
func (s *Server) Submit(ctx context.Context, req SubmitRequest) (*models.BookingRequest, error) {
	booking := models.BookingRequest{
		ReferenceCode:   uuid.NewString(),
		AccommodationID: req.AccommodationID,
		RequesterID:     req.RequesterID,
		CheckIn:         req.CheckIn,
		CheckOut:        req.CheckOut,
		NumberOfGuests:  req.NumberOfGuests,
		Status:          models.PENDING,
	}
	if err := utils.Validate.Struct(booking); err != nil {
		return nil, asValidationError(err)
	}

	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var acc models.Accommodation
		if res := tx.First(&acc, req.AccommodationID); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return &models.NotFoundError{Entity: "accommodation", ID: req.AccommodationID}
			}
			return res.Error
		}
		if !acc.AcceptingBookings() {
			return &models.NotFoundError{Entity: "accommodation", ID: req.AccommodationID}
		}
		if req.NumberOfGuests > acc.GuestCapacity {
			return &models.ValidationError{
				Field:  "number_of_guests",
				Reason: "exceeds the accommodation's guest capacity",
			}
		}

		if _, err := lockLedger(tx, acc.ID); err != nil {
			return err
		}
		if err := tx.Create(&booking).Error; err != nil {
			return err
		}
		if err := applyDelta(tx, acc.ID, "pending_count", 1); err != nil {
			return err
		}
		return applyDelta(tx, acc.ID, "total_count", 1)
	})
	if err != nil {
		return nil, err
	}
	level.Info(s.Logger).Log(
		"msg", "booking submitted",
		"booking_id", booking.ID,
		"accommodation_id", booking.AccommodationID,
		"requester_id", booking.RequesterID,
	)
	return &booking, nil
}

// Decide approves or rejects a pending request. The approve path is the
// capacity-safety boundary: the ledger row lock is held while the count is
// re-checked and the status flipped, so two admins racing for the last slot
// cannot both win. The loser gets CapacityExceededError, not a generic
// failure.
func (s *Server) Decide(ctx context.Context, requestID int64, decision Decision, adminID int64) (*models.BookingRequest, error) {
	ctx, span := s.tracer.Start(ctx, "admission.decide")
	defer span.End()

	if decision != APPROVE && decision != REJECT {
		return nil, &models.ValidationError{Field: "decision", Reason: "must be approve or reject"}
	}

	var booking models.BookingRequest
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// first read is only to learn the accommodation; the authoritative
		// re-read happens under the ledger lock below
		if res := tx.First(&booking, requestID); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return &models.NotFoundError{Entity: "booking", ID: requestID}
			}
			return res.Error
		}

		ledger, err := lockLedger(tx, booking.AccommodationID)
		if err != nil {
			return err
		}
		if res := tx.First(&booking, requestID); res.Error != nil {
			return res.Error
		}
		if booking.Status != models.PENDING {
			return &models.AlreadyDecidedError{Status: booking.Status}
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"decided_at": now,
			"decided_by": adminID,
		}
		switch decision {
		case APPROVE:
			var acc models.Accommodation
			if res := tx.First(&acc, booking.AccommodationID); res.Error != nil {
				return res.Error
			}
			if ledger.ApprovedCount+1 > acc.MaxBookings {
				return &models.CapacityExceededError{
					AccommodationID: acc.ID,
					MaxBookings:     acc.MaxBookings,
				}
			}
			deadline := now.Add(paymentDeadline())
			updates["status"] = models.APPROVED
			updates["payment_deadline"] = deadline
			if err := applyDelta(tx, acc.ID, "approved_count", 1); err != nil {
				return err
			}
		case REJECT:
			updates["status"] = models.REJECTED
		}
		if err := applyDelta(tx, booking.AccommodationID, "pending_count", -1); err != nil {
			return err
		}
		if err := tx.Model(&booking).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&booking, requestID).Error
	})
	if err != nil {
		var capErr *models.CapacityExceededError
		if errors.As(err, &capErr) && s.Metrics != nil {
			s.Metrics.CapacityRejections.Inc()
		}
		return nil, err
	}
	if s.Metrics != nil {
		s.Metrics.Decisions.WithLabelValues(string(decision)).Inc()
	}
	level.Info(s.Logger).Log(
		"msg", "booking decided",
		"booking_id", booking.ID,
		"decision", decision,
		"admin_id", adminID,
	)
	return &booking, nil
}

// Cancel withdraws a pending request. Racing against a concurrent decision
// is resolved by the ledger lock: whichever commits first wins and the
// other fails with a state error.
func (s *Server) Cancel(ctx context.Context, requestID, requesterID int64) (*models.BookingRequest, error) {
	var booking models.BookingRequest
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if res := tx.First(&booking, requestID); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return &models.NotFoundError{Entity: "booking", ID: requestID}
			}
			return res.Error
		}
		if booking.RequesterID != requesterID {
			return &models.NotFoundError{Entity: "booking", ID: requestID}
		}

		if _, err := lockLedger(tx, booking.AccommodationID); err != nil {
			return err
		}
		if res := tx.First(&booking, requestID); res.Error != nil {
			return res.Error
		}
		if booking.Status != models.PENDING {
			return &models.InvalidStateError{Status: booking.Status, Op: "cancel"}
		}

		if err := tx.Model(&booking).Update("status", models.CANCELLED).Error; err != nil {
			return err
		}
		booking.Status = models.CANCELLED
		return applyDelta(tx, booking.AccommodationID, "pending_count", -1)
	})
	if err != nil {
		return nil, err
	}
	level.Info(s.Logger).Log("msg", "booking cancelled", "booking_id", booking.ID)
	return &booking, nil
}

// Confirm moves an approved request to confirmed once the payment gate
// signals verified payment. Idempotent: confirming a confirmed booking is a
// no-op. The slot is already counted, so the ledger does not change.
func (s *Server) Confirm(ctx context.Context, requestID int64) (*models.BookingRequest, error) {
	return s.paymentTransition(ctx, requestID, models.CONFIRMED, "confirm", nil)
}

// MarkOverdue moves an approved request to overdue once its payment
// deadline has elapsed. Idempotent. The slot is retained until an admin
// releases it explicitly.
func (s *Server) MarkOverdue(ctx context.Context, requestID int64) (*models.BookingRequest, error) {
	check := func(b *models.BookingRequest) error {
		if b.PaymentDeadline == nil || time.Now().UTC().Before(*b.PaymentDeadline) {
			return &models.InvalidStateError{Status: b.Status, Op: "mark overdue before the deadline"}
		}
		return nil
	}
	return s.paymentTransition(ctx, requestID, models.OVERDUE, "mark overdue", check)
}

// paymentTransition handles the two approved->X transitions driven by the
// payment gate. target must be reachable from approved; reaching target
// again is treated as a retried signal and succeeds without side effects.
func (s *Server) paymentTransition(
	ctx context.Context,
	requestID int64,
	target models.BookingStatus,
	op string,
	check func(*models.BookingRequest) error,
) (*models.BookingRequest, error) {
	var booking models.BookingRequest
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if res := tx.First(&booking, requestID); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return &models.NotFoundError{Entity: "booking", ID: requestID}
			}
			return res.Error
		}

		if _, err := lockLedger(tx, booking.AccommodationID); err != nil {
			return err
		}
		if res := tx.First(&booking, requestID); res.Error != nil {
			return res.Error
		}
		if booking.Status == target {
			return nil
		}
		if !booking.Status.CanTransitionTo(target) {
			return &models.InvalidStateError{Status: booking.Status, Op: op}
		}
		if check != nil {
			if err := check(&booking); err != nil {
				return err
			}
		}
		if err := tx.Model(&booking).Update("status", target).Error; err != nil {
			return err
		}
		booking.Status = target
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ReleaseOverdue is the explicit admin action that returns an overdue
// booking's slot to the pool. The overdue state never releases capacity on
// its own.
func (s *Server) ReleaseOverdue(ctx context.Context, requestID, adminID int64) (*models.BookingRequest, error) {
	var booking models.BookingRequest
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if res := tx.First(&booking, requestID); res.Error != nil {
			if errors.Is(res.Error, gorm.ErrRecordNotFound) {
				return &models.NotFoundError{Entity: "booking", ID: requestID}
			}
			return res.Error
		}

		if _, err := lockLedger(tx, booking.AccommodationID); err != nil {
			return err
		}
		if res := tx.First(&booking, requestID); res.Error != nil {
			return res.Error
		}
		if booking.Status != models.OVERDUE {
			return &models.InvalidStateError{Status: booking.Status, Op: "release"}
		}

		now := time.Now().UTC()
		if err := tx.Model(&booking).Updates(map[string]interface{}{
			"status":     models.REJECTED,
			"decided_at": now,
			"decided_by": adminID,
		}).Error; err != nil {
			return err
		}
		booking.Status = models.REJECTED
		return applyDelta(tx, booking.AccommodationID, "approved_count", -1)
	})
	if err != nil {
		return nil, err
	}
	level.Info(s.Logger).Log(
		"msg", "overdue booking released",
		"booking_id", booking.ID,
		"admin_id", adminID,
	)
	return &booking, nil
}

// ConfirmByReference resolves a payment gate reference code to a booking
// and confirms it.
func (s *Server) ConfirmByReference(ctx context.Context, referenceCode string) (*models.BookingRequest, error) {
	booking, err := s.byReference(ctx, referenceCode)
	if err != nil {
		return nil, err
	}
	return s.Confirm(ctx, booking.ID)
}

// OverdueByReference resolves a payment gate reference code to a booking
// and marks it overdue.
func (s *Server) OverdueByReference(ctx context.Context, referenceCode string) (*models.BookingRequest, error) {
	booking, err := s.byReference(ctx, referenceCode)
	if err != nil {
		return nil, err
	}
	return s.MarkOverdue(ctx, booking.ID)
}

// MyBookings lists a requester's bookings, newest first.
func (s *Server) MyBookings(ctx context.Context, requesterID int64) ([]models.BookingRequest, error) {
	var bookings []models.BookingRequest
	res := db.DB.WithContext(ctx).
		Where(&models.BookingRequest{RequesterID: requesterID}).
		Order("created_at DESC").
		Find(&bookings)
	return bookings, res.Error
}

// PendingForAdmin lists pending requests, optionally filtered to one
// accommodation. accommodationID 0 means all.
func (s *Server) PendingForAdmin(ctx context.Context, accommodationID int64) ([]models.BookingRequest, error) {
	var bookings []models.BookingRequest
	q := db.DB.WithContext(ctx).Where("status = ?", models.PENDING)
	if accommodationID != 0 {
		q = q.Where("accommodation_id = ?", accommodationID)
	}
	res := q.Order("created_at ASC").Find(&bookings)
	return bookings, res.Error
}

// SyncAccommodation upserts an accommodation pushed by the catalog service
// and makes sure its ledger row exists.
func (s *Server) SyncAccommodation(ctx context.Context, acc models.Accommodation) (*models.Accommodation, error) {
	if err := utils.Validate.Struct(acc); err != nil {
		return nil, asValidationError(err)
	}
	if acc.AdminStatus == "" {
		acc.AdminStatus = models.ADMIN_AVAILABLE
	}
	err := db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&acc).Error; err != nil {
			return err
		}
		return ensureLedger(tx, acc.ID)
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *Server) accommodation(ctx context.Context, id int64) (*models.Accommodation, error) {
	var acc models.Accommodation
	if res := db.DB.WithContext(ctx).First(&acc, id); res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, &models.NotFoundError{Entity: "accommodation", ID: id}
		}
		return nil, res.Error
	}
	return &acc, nil
}

func (s *Server) byReference(ctx context.Context, referenceCode string) (*models.BookingRequest, error) {
	var booking models.BookingRequest
	res := db.DB.WithContext(ctx).
		Where(&models.BookingRequest{ReferenceCode: referenceCode}).
		First(&booking)
	if errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, &models.NotFoundError{Entity: "booking", ID: 0}
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return &booking, nil
}

func asValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &models.ValidationError{
			Field:  verrs[0].Field(),
			Reason: "failed " + verrs[0].Tag() + " check",
		}
	}
	return &models.ValidationError{Field: "request", Reason: err.Error()}
}

func paymentDeadline() time.Duration {
	hours, err := strconv.Atoi(os.Getenv("PAYMENT_DEADLINE_HOURS"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}
