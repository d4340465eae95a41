package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	"github.com/noah-isme/tutor-booking-api/internal/service"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
	"github.com/noah-isme/tutor-booking-api/pkg/response"
)

type bookingService interface {
	CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error)
	Get(ctx context.Context, id string) (*models.Booking, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error)
	ConfirmBooking(ctx context.Context, id string) (*models.Booking, error)
	RejectBooking(ctx context.Context, id string, req service.CancelBookingRequest) (*models.Booking, error)
	CancelBooking(ctx context.Context, id string, req service.CancelBookingRequest) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id string) (*models.Booking, error)
	Reschedule(ctx context.Context, id string, req service.RescheduleBookingRequest) (*models.Booking, error)
}

// BookingHandler exposes booking lifecycle endpoints.
type BookingHandler struct {
	bookings bookingService
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(bookings bookingService) *BookingHandler {
	return &BookingHandler{bookings: bookings}
}

// Create godoc
// @Summary Book a teacher interval
// @Description Students always book for themselves; admins may book on behalf of a student.
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body service.CreateBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Create(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	var req service.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking payload"))
		return
	}
	switch claims.Role {
	case models.RoleStudent:
		req.StudentID = claims.UserID
	case models.RoleAdmin:
	default:
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "only students can book"))
		return
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// List godoc
// @Summary List bookings
// @Description Students see their own bookings, teachers the bookings made with them.
// @Tags Bookings
// @Produce json
// @Param teacher_id query string false "Teacher ID (admin only)"
// @Param student_id query string false "Student ID (admin only)"
// @Param status query string false "PENDING, CONFIRMED, CANCELLED or COMPLETED"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Param order query string false "Sort order (asc/desc)"
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	claims, ok := requireClaims(c)
	if !ok {
		return
	}
	filter := models.BookingFilter{
		TeacherID: strings.TrimSpace(c.Query("teacher_id")),
		StudentID: strings.TrimSpace(c.Query("student_id")),
		Status:    models.BookingStatus(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		SortOrder: c.Query("order"),
	}
	switch claims.Role {
	case models.RoleStudent:
		filter.StudentID = claims.UserID
	case models.RoleTeacher:
		filter.TeacherID = claims.UserID
	}
	from, to, err := dateRangeQuery(c, false)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !from.IsZero() {
		filter.From = &from
	}
	if !to.IsZero() {
		filter.To = &to
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	bookings, pagination, err := h.bookings.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, bookings, pagination)
}

// Get godoc
// @Summary Get booking detail
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	booking, ok := h.participantBooking(c, true)
	if !ok {
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Confirm godoc
// @Summary Confirm a pending booking
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/confirm [post]
func (h *BookingHandler) Confirm(c *gin.Context) {
	if _, ok := h.participantBooking(c, false); !ok {
		return
	}
	booking, err := h.bookings.ConfirmBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Reject godoc
// @Summary Reject a pending booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body service.CancelBookingRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/reject [post]
func (h *BookingHandler) Reject(c *gin.Context) {
	if _, ok := h.participantBooking(c, false); !ok {
		return
	}
	req, ok := bindOptionalReason(c)
	if !ok {
		return
	}
	booking, err := h.bookings.RejectBooking(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Cancel godoc
// @Summary Cancel a booking
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body service.CancelBookingRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/cancel [post]
func (h *BookingHandler) Cancel(c *gin.Context) {
	if _, ok := h.participantBooking(c, true); !ok {
		return
	}
	req, ok := bindOptionalReason(c)
	if !ok {
		return
	}
	booking, err := h.bookings.CancelBooking(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Complete godoc
// @Summary Mark a finished booking completed
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/complete [post]
func (h *BookingHandler) Complete(c *gin.Context) {
	if _, ok := h.participantBooking(c, false); !ok {
		return
	}
	booking, err := h.bookings.CompleteBooking(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Reschedule godoc
// @Summary Move a booking to another interval
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body service.RescheduleBookingRequest true "New interval"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/{id}/reschedule [post]
func (h *BookingHandler) Reschedule(c *gin.Context) {
	if _, ok := h.participantBooking(c, true); !ok {
		return
	}
	var req service.RescheduleBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reschedule payload"))
		return
	}
	booking, err := h.bookings.Reschedule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// participantBooking loads the booking and checks the caller is its teacher,
// its student (when studentAllowed) or an admin. It writes the error response itself.
func (h *BookingHandler) participantBooking(c *gin.Context, studentAllowed bool) (*models.Booking, bool) {
	claims, ok := requireClaims(c)
	if !ok {
		return nil, false
	}
	booking, err := h.bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	if !participates(claims, booking, studentAllowed) {
		response.Error(c, appErrors.ErrForbidden)
		return nil, false
	}
	return booking, true
}

func bindOptionalReason(c *gin.Context) (service.CancelBookingRequest, bool) {
	var req service.CancelBookingRequest
	if c.Request.ContentLength == 0 {
		return req, true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reason payload"))
		return req, false
	}
	return req, true
}

// dateRangeQuery parses the from/to query parameters.
func dateRangeQuery(c *gin.Context, required bool) (models.CalendarDate, models.CalendarDate, error) {
	var from, to models.CalendarDate
	rawFrom, rawTo := strings.TrimSpace(c.Query("from")), strings.TrimSpace(c.Query("to"))
	if required && (rawFrom == "" || rawTo == "") {
		return from, to, appErrors.Clone(appErrors.ErrValidation, "from and to are required")
	}
	var err error
	if rawFrom != "" {
		if from, err = models.ParseDate(rawFrom); err != nil {
			return from, to, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid from date")
		}
	}
	if rawTo != "" {
		if to, err = models.ParseDate(rawTo); err != nil {
			return from, to, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid to date")
		}
	}
	return from, to, nil
}
