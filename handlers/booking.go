package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/stayport/booking-service/models"
	"github.com/stayport/booking-service/services"
)

type BookingHandler struct {
	Service *services.Server
	Logger  log.Logger
}

func NewBookingHandler(service *services.Server, logger log.Logger) *BookingHandler {
	return &BookingHandler{Service: service, Logger: logger}
}

type submitBody struct {
	AccommodationID int64  `json:"accommodation_id" binding:"required"`
	CheckIn         string `json:"check_in"         binding:"required"`
	CheckOut        string `json:"check_out"        binding:"required"`
	NumberOfGuests  int64  `json:"number_of_guests" binding:"required"`
}

func (h *BookingHandler) Submit(c *gin.Context) {
	requesterID, ok := headerID(c, "X-User-Id")
	if !ok {
		return
	}
	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	checkIn, err := time.Parse("2006-01-02", body.CheckIn)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "check_in must be YYYY-MM-DD", "field": "check_in"})
		return
	}
	checkOut, err := time.Parse("2006-01-02", body.CheckOut)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "check_out must be YYYY-MM-DD", "field": "check_out"})
		return
	}

	booking, err := h.Service.Submit(c.Request.Context(), services.SubmitRequest{
		AccommodationID: body.AccommodationID,
		RequesterID:     requesterID,
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		NumberOfGuests:  body.NumberOfGuests,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, booking)
}

type decideBody struct {
	Decision string `json:"decision" binding:"required"`
}

func (h *BookingHandler) Decide(c *gin.Context) {
	adminID, ok := headerID(c, "X-Admin-Id")
	if !ok {
		return
	}
	requestID, ok := paramID(c)
	if !ok {
		return
	}
	var body decideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	booking, err := h.Service.Decide(
		c.Request.Context(), requestID, services.Decision(body.Decision), adminID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	requesterID, ok := headerID(c, "X-User-Id")
	if !ok {
		return
	}
	requestID, ok := paramID(c)
	if !ok {
		return
	}
	booking, err := h.Service.Cancel(c.Request.Context(), requestID, requesterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *BookingHandler) Release(c *gin.Context) {
	adminID, ok := headerID(c, "X-Admin-Id")
	if !ok {
		return
	}
	requestID, ok := paramID(c)
	if !ok {
		return
	}
	booking, err := h.Service.ReleaseOverdue(c.Request.Context(), requestID, adminID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *BookingHandler) Stats(c *gin.Context) {
	accommodationID, ok := paramID(c)
	if !ok {
		return
	}
	snap, err := h.Service.Stats(c.Request.Context(), accommodationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *BookingHandler) MyBookings(c *gin.Context) {
	requesterID, ok := headerID(c, "X-User-Id")
	if !ok {
		return
	}
	bookings, err := h.Service.MyBookings(c.Request.Context(), requesterID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *BookingHandler) Pending(c *gin.Context) {
	if _, ok := headerID(c, "X-Admin-Id"); !ok {
		return
	}
	var accommodationID int64
	if raw := c.Query("accommodation_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "accommodation_id must be an integer"})
			return
		}
		accommodationID = id
	}
	bookings, err := h.Service.PendingForAdmin(c.Request.Context(), accommodationID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings})
}

func (h *BookingHandler) SyncAccommodation(c *gin.Context) {
	if _, ok := headerID(c, "X-Admin-Id"); !ok {
		return
	}
	var acc models.Accommodation
	if err := c.ShouldBindJSON(&acc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved, err := h.Service.SyncAccommodation(c.Request.Context(), acc)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

type webhookBody struct {
	ReferenceCode string `json:"reference_code" binding:"required"`
}

func (h *BookingHandler) PaymentVerified(c *gin.Context) {
	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	booking, err := h.Service.ConfirmByReference(c.Request.Context(), body.ReferenceCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

func (h *BookingHandler) PaymentOverdue(c *gin.Context) {
	var body webhookBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	booking, err := h.Service.OverdueByReference(c.Request.Context(), body.ReferenceCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, booking)
}

// respondError maps the admission error taxonomy onto HTTP. Capacity races
// get their own code so clients can tell "someone took that slot" from a
// validation mistake; anything unrecognized is a generic retryable failure.
func (h *BookingHandler) respondError(c *gin.Context, err error) {
	var (
		validationErr *models.ValidationError
		notFoundErr   *models.NotFoundError
		stateErr      *models.InvalidStateError
		decidedErr    *models.AlreadyDecidedError
		capacityErr   *models.CapacityExceededError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code": "validation", "field": validationErr.Field, "error": validationErr.Error(),
		})
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": notFoundErr.Error()})
	case errors.As(err, &decidedErr):
		c.JSON(http.StatusConflict, gin.H{
			"code": "already_decided", "status": decidedErr.Status, "error": decidedErr.Error(),
		})
	case errors.As(err, &capacityErr):
		c.JSON(http.StatusConflict, gin.H{
			"code": "capacity_exceeded", "error": "slot no longer available",
		})
	case errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{"code": "invalid_state", "error": stateErr.Error()})
	default:
		level.Error(h.Logger).Log("msg", "request failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code": "internal", "error": "temporary failure, please retry",
		})
	}
}

func headerID(c *gin.Context, header string) (int64, bool) {
	raw := c.GetHeader(header)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": header + " header is required"})
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": header + " must be an integer id"})
		return 0, false
	}
	return id, true
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be an integer"})
		return 0, false
	}
	return id, true
}
