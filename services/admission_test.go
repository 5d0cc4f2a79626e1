package services

import (
	"context"
	stdlog "log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/go-kit/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/stayport/booking-service/db"
	"github.com/stayport/booking-service/models"
	"github.com/stayport/booking-service/utils"
)

func setup() {
	if err := godotenv.Load("../.env"); err != nil {
		os.Setenv("PGHOST", "localhost")
		os.Setenv("PGUSER", "postgres")
		os.Setenv("PGPASSWORD", "postgres")
		os.Setenv("PGDATABASE", "booking_test")
	}
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		AutoRemove:   true,
		Env: map[string]string{
			"POSTGRES_USER":     os.Getenv("PGUSER"),
			"POSTGRES_PASSWORD": os.Getenv("PGPASSWORD"),
			"POSTGRES_DB":       os.Getenv("PGDATABASE"),
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	postgres, err := testcontainers.GenericContainer(
		context.Background(),
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		},
	)
	if err != nil {
		stdlog.Fatal("error:", err)
	}
	dbPort, err := postgres.MappedPort(context.Background(), nat.Port("5432/tcp"))
	if err != nil {
		stdlog.Fatal("error:", err)
	}
	os.Setenv("PGPORT", dbPort.Port())
	db.InitDB()
	utils.InitValidator()
}

func TestMain(m *testing.M) {
	setup()
	os.Exit(m.Run())
}

func newTestServer() *Server {
	return NewServer(log.NewNopLogger(), NewMetrics(prometheus.NewRegistry()))
}

func createAccommodation(t *testing.T, s *Server, maxBookings, guestCapacity int64) *models.Accommodation {
	t.Helper()
	acc, err := s.SyncAccommodation(context.Background(), models.Accommodation{
		Name:          "test accommodation",
		MaxBookings:   maxBookings,
		GuestCapacity: guestCapacity,
		AdminStatus:   models.ADMIN_AVAILABLE,
	})
	require.NoError(t, err)
	return acc
}

func submit(t *testing.T, s *Server, accommodationID, requesterID int64) *models.BookingRequest {
	t.Helper()
	booking, err := s.Submit(context.Background(), SubmitRequest{
		AccommodationID: accommodationID,
		RequesterID:     requesterID,
		CheckIn:         time.Now().UTC().Add(24 * time.Hour),
		CheckOut:        time.Now().UTC().Add(72 * time.Hour),
		NumberOfGuests:  1,
	})
	require.NoError(t, err)
	require.Equal(t, models.PENDING, booking.Status)
	return booking
}

func TestSubmitRejectsBadDates(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)

	checkIn := time.Now().UTC().Add(48 * time.Hour)
	_, err := s.Submit(context.Background(), SubmitRequest{
		AccommodationID: acc.ID,
		RequesterID:     1,
		CheckIn:         checkIn,
		CheckOut:        checkIn, // not after check-in
		NumberOfGuests:  1,
	})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)

	// no row was created
	var count int64
	db.DB.Model(&models.BookingRequest{}).
		Where("accommodation_id = ?", acc.ID).Count(&count)
	require.Zero(t, count)
}

func TestSubmitRejectsPastCheckIn(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)

	_, err := s.Submit(context.Background(), SubmitRequest{
		AccommodationID: acc.ID,
		RequesterID:     1,
		CheckIn:         time.Now().UTC().Add(-48 * time.Hour),
		CheckOut:        time.Now().UTC().Add(48 * time.Hour),
		NumberOfGuests:  1,
	})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSubmitUnknownAccommodation(t *testing.T) {
	s := newTestServer()
	_, err := s.Submit(context.Background(), SubmitRequest{
		AccommodationID: 987654321,
		RequesterID:     1,
		CheckIn:         time.Now().UTC().Add(24 * time.Hour),
		CheckOut:        time.Now().UTC().Add(48 * time.Hour),
		NumberOfGuests:  1,
	})
	var nferr *models.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestSubmitBlockedAccommodation(t *testing.T) {
	s := newTestServer()
	acc, err := s.SyncAccommodation(context.Background(), models.Accommodation{
		Name:          "under maintenance",
		MaxBookings:   2,
		GuestCapacity: 4,
		AdminStatus:   models.ADMIN_MAINTENANCE,
	})
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), SubmitRequest{
		AccommodationID: acc.ID,
		RequesterID:     1,
		CheckIn:         time.Now().UTC().Add(24 * time.Hour),
		CheckOut:        time.Now().UTC().Add(48 * time.Hour),
		NumberOfGuests:  1,
	})
	var nferr *models.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestSubmitRejectsTooManyGuests(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 2)

	_, err := s.Submit(context.Background(), SubmitRequest{
		AccommodationID: acc.ID,
		RequesterID:     1,
		CheckIn:         time.Now().UTC().Add(24 * time.Hour),
		CheckOut:        time.Now().UTC().Add(48 * time.Hour),
		NumberOfGuests:  3,
	})
	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestApproveLastSlot(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 1, 4)
	r1 := submit(t, s, acc.ID, 1)
	r2 := submit(t, s, acc.ID, 2)

	decided, err := s.Decide(context.Background(), r1.ID, APPROVE, 10)
	require.NoError(t, err)
	require.Equal(t, models.APPROVED, decided.Status)
	require.NotNil(t, decided.PaymentDeadline)

	ledger, err := s.Ledger(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), ledger.ApprovedCount)

	_, err = s.Decide(context.Background(), r2.ID, APPROVE, 10)
	var capErr *models.CapacityExceededError
	require.ErrorAs(t, err, &capErr)

	// the loser is untouched and can still be rejected
	var reread models.BookingRequest
	require.NoError(t, db.DB.First(&reread, r2.ID).Error)
	require.Equal(t, models.PENDING, reread.Status)
}

func TestNoOversellUnderConcurrentApprovals(t *testing.T) {
	s := newTestServer()
	const maxBookings = 3
	const contenders = 7
	acc := createAccommodation(t, s, maxBookings, 4)

	requests := make([]*models.BookingRequest, contenders)
	for i := range requests {
		requests[i] = submit(t, s, acc.ID, int64(i+1))
	}

	var wg sync.WaitGroup
	errs := make([]error, contenders)
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Decide(context.Background(), requests[i].ID, APPROVE, 10)
		}(i)
	}
	wg.Wait()

	approved := 0
	for _, err := range errs {
		if err == nil {
			approved++
			continue
		}
		var capErr *models.CapacityExceededError
		require.ErrorAs(t, err, &capErr, "losers must fail with a capacity error")
	}
	require.Equal(t, maxBookings, approved)

	ledger, err := s.RecomputeLedger(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(maxBookings), ledger.ApprovedCount)

	var actual int64
	db.DB.Model(&models.BookingRequest{}).
		Where("accommodation_id = ? AND status IN ?", acc.ID,
			[]models.BookingStatus{models.APPROVED, models.CONFIRMED}).
		Count(&actual)
	require.Equal(t, int64(maxBookings), actual)
}

func TestDecideIsIdempotent(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)
	r := submit(t, s, acc.ID, 1)

	_, err := s.Decide(context.Background(), r.ID, APPROVE, 10)
	require.NoError(t, err)

	_, err = s.Decide(context.Background(), r.ID, APPROVE, 10)
	var decidedErr *models.AlreadyDecidedError
	require.ErrorAs(t, err, &decidedErr)
	require.Equal(t, models.APPROVED, decidedErr.Status)

	// retry did not double count
	ledger, err := s.Ledger(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), ledger.ApprovedCount)
}

func TestReject(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)
	r := submit(t, s, acc.ID, 1)

	decided, err := s.Decide(context.Background(), r.ID, REJECT, 10)
	require.NoError(t, err)
	require.Equal(t, models.REJECTED, decided.Status)

	ledger, err := s.Ledger(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Zero(t, ledger.ApprovedCount)
	require.Zero(t, ledger.PendingCount)
	require.Equal(t, int64(1), ledger.TotalCount)
}

func TestCancelPendingOnly(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)
	r1 := submit(t, s, acc.ID, 1)
	r2 := submit(t, s, acc.ID, 2)

	before, err := s.Ledger(context.Background(), acc.ID)
	require.NoError(t, err)

	cancelled, err := s.Cancel(context.Background(), r1.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.CANCELLED, cancelled.Status)

	after, err := s.Ledger(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, before.PendingCount-1, after.PendingCount)

	// approved requests cannot be cancelled
	_, err = s.Decide(context.Background(), r2.ID, APPROVE, 10)
	require.NoError(t, err)
	_, err = s.Cancel(context.Background(), r2.ID, 2)
	var stateErr *models.InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestCancelByStranger(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)
	r := submit(t, s, acc.ID, 1)

	_, err := s.Cancel(context.Background(), r.ID, 99)
	var nferr *models.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestConfirmFlow(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)
	r := submit(t, s, acc.ID, 1)

	// payment signal before a decision is a state error
	_, err := s.Confirm(context.Background(), r.ID)
	var stateErr *models.InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	_, err = s.Decide(context.Background(), r.ID, APPROVE, 10)
	require.NoError(t, err)

	confirmed, err := s.Confirm(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.CONFIRMED, confirmed.Status)

	// retried webhook is a no-op
	again, err := s.Confirm(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.CONFIRMED, again.Status)

	// confirmed still holds the slot
	ledger, err := s.Ledger(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), ledger.ApprovedCount)
}

func TestConfirmByReference(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)
	r := submit(t, s, acc.ID, 1)
	_, err := s.Decide(context.Background(), r.ID, APPROVE, 10)
	require.NoError(t, err)

	confirmed, err := s.ConfirmByReference(context.Background(), r.ReferenceCode)
	require.NoError(t, err)
	require.Equal(t, models.CONFIRMED, confirmed.Status)

	_, err = s.ConfirmByReference(context.Background(), "no-such-reference")
	var nferr *models.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestOverdueKeepsSlotUntilReleased(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 1, 4)
	r := submit(t, s, acc.ID, 1)
	_, err := s.Decide(context.Background(), r.ID, APPROVE, 10)
	require.NoError(t, err)

	// deadline has not elapsed yet
	_, err = s.MarkOverdue(context.Background(), r.ID)
	var stateErr *models.InvalidStateError
	require.ErrorAs(t, err, &stateErr)

	expired := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, db.DB.Model(&models.BookingRequest{}).
		Where("id = ?", r.ID).
		Update("payment_deadline", expired).Error)

	overdue, err := s.MarkOverdue(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.OVERDUE, overdue.Status)

	// idempotent
	again, err := s.MarkOverdue(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.OVERDUE, again.Status)

	// slot is still held: another approval must fail
	r2 := submit(t, s, acc.ID, 2)
	_, err = s.Decide(context.Background(), r2.ID, APPROVE, 10)
	var capErr *models.CapacityExceededError
	require.ErrorAs(t, err, &capErr)

	// explicit release frees it
	released, err := s.ReleaseOverdue(context.Background(), r.ID, 10)
	require.NoError(t, err)
	require.Equal(t, models.REJECTED, released.Status)

	_, err = s.Decide(context.Background(), r2.ID, APPROVE, 10)
	require.NoError(t, err)

	_, err = s.ReleaseOverdue(context.Background(), r.ID, 10)
	require.ErrorAs(t, err, &stateErr)
}

func TestRecomputeLedgerRepairsDrift(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 5, 4)
	r := submit(t, s, acc.ID, 1)
	_, err := s.Decide(context.Background(), r.ID, APPROVE, 10)
	require.NoError(t, err)
	submit(t, s, acc.ID, 2)

	// corrupt the counters behind the controller's back
	require.NoError(t, db.DB.Model(&models.CapacityLedger{}).
		Where("accommodation_id = ?", acc.ID).
		Updates(map[string]interface{}{
			"approved_count": 42,
			"pending_count":  0,
		}).Error)

	ledger, err := s.RecomputeLedger(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), ledger.ApprovedCount)
	require.Equal(t, int64(1), ledger.PendingCount)
	require.Equal(t, int64(2), ledger.TotalCount)
}

func TestStatsEndToEnd(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 2, 4)
	r := submit(t, s, acc.ID, 1)
	_, err := s.Decide(context.Background(), r.ID, APPROVE, 10)
	require.NoError(t, err)

	snap, err := s.Stats(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.ApprovedCount)
	require.Equal(t, int64(1), snap.AvailableSlots)
	require.InDelta(t, 50.0, snap.OccupancyRate, 0.001)
	require.Equal(t, BUCKET_AVAILABLE, snap.StatusBucket)

	_, err = s.Stats(context.Background(), 123456789)
	var nferr *models.NotFoundError
	require.ErrorAs(t, err, &nferr)
}

func TestListings(t *testing.T) {
	s := newTestServer()
	acc := createAccommodation(t, s, 5, 4)
	other := createAccommodation(t, s, 5, 4)
	r1 := submit(t, s, acc.ID, 700)
	submit(t, s, other.ID, 700)
	submit(t, s, acc.ID, 701)

	mine, err := s.MyBookings(context.Background(), 700)
	require.NoError(t, err)
	require.Len(t, mine, 2)

	pending, err := s.PendingForAdmin(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	_, err = s.Decide(context.Background(), r1.ID, REJECT, 10)
	require.NoError(t, err)
	pending, err = s.PendingForAdmin(context.Background(), acc.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}
