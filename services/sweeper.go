package services

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/stayport/booking-service/client"
	"github.com/stayport/booking-service/db"
	"github.com/stayport/booking-service/models"
)

// Sweeper periodically scans approved bookings whose payment deadline has
// elapsed and marks them overdue. It never releases the slot; that stays an
// explicit admin action. When a payment client is configured the gate is
// polled first, so a payment that landed without its webhook still confirms
// instead of going overdue.
type Sweeper struct {
	Server   *Server
	Logger   log.Logger
	Payment  client.PaymentClient
	Interval time.Duration
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	var due []models.BookingRequest
	res := db.DB.WithContext(ctx).
		Where("status = ? AND payment_deadline < ?", models.APPROVED, time.Now().UTC()).
		Find(&due)
	if res.Error != nil {
		level.Error(s.Logger).Log("msg", "overdue scan failed", "err", res.Error)
		return
	}
	for _, booking := range due {
		if s.Payment != nil {
			verified, err := s.Payment.VerifyPayment(ctx, booking.ReferenceCode)
			if err != nil {
				level.Warn(s.Logger).Log(
					"msg", "payment gate unreachable, skipping booking this sweep",
					"booking_id", booking.ID, "err", err,
				)
				continue
			}
			if verified {
				if _, err := s.Server.Confirm(ctx, booking.ID); err != nil {
					level.Error(s.Logger).Log("msg", "late confirm failed", "booking_id", booking.ID, "err", err)
				}
				continue
			}
		}
		if _, err := s.Server.MarkOverdue(ctx, booking.ID); err != nil {
			level.Error(s.Logger).Log("msg", "mark overdue failed", "booking_id", booking.ID, "err", err)
			continue
		}
		if s.Server.Metrics != nil {
			s.Server.Metrics.OverdueSwept.Inc()
		}
		level.Info(s.Logger).Log("msg", "booking marked overdue", "booking_id", booking.ID)
	}
}

// ConsistencyChecker periodically recomputes every ledger from booking rows
// and repairs drift. This is the recovery path for any bug in the delta
// logic.
type ConsistencyChecker struct {
	Server   *Server
	Logger   log.Logger
	Interval time.Duration
}

func (c *ConsistencyChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.checkOnce(ctx)
		}
	}
}

func (c *ConsistencyChecker) checkOnce(ctx context.Context) {
	var ledgers []models.CapacityLedger
	if res := db.DB.WithContext(ctx).Find(&ledgers); res.Error != nil {
		level.Error(c.Logger).Log("msg", "ledger scan failed", "err", res.Error)
		return
	}
	for _, ledger := range ledgers {
		if _, err := c.Server.RecomputeLedger(ctx, ledger.AccommodationID); err != nil {
			level.Error(c.Logger).Log(
				"msg", "ledger recompute failed",
				"accommodation_id", ledger.AccommodationID, "err", err,
			)
		}
	}
}
