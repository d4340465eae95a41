package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	"github.com/noah-isme/tutor-booking-api/internal/service"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
	"github.com/noah-isme/tutor-booking-api/pkg/response"
)

type availabilityService interface {
	ListWeekly(ctx context.Context, teacherID string) ([]models.WeeklyAvailability, error)
	ReplaceWeekly(ctx context.Context, teacherID string, req service.ReplaceWeeklyAvailabilityRequest) ([]models.WeeklyAvailability, error)
	ListBlocks(ctx context.Context, teacherID string) ([]models.BlockedInterval, error)
	AddBlock(ctx context.Context, teacherID string, req service.CreateBlockRequest) (*models.BlockedInterval, error)
	RemoveBlock(ctx context.Context, teacherID, blockID string) error
	FreeSlots(ctx context.Context, teacherID string, from, to models.CalendarDate) ([]models.Interval, error)
}

// AvailabilityHandler serves teacher schedules and free-slot queries.
type AvailabilityHandler struct {
	availability availabilityService
}

// NewAvailabilityHandler constructs an AvailabilityHandler.
func NewAvailabilityHandler(availability availabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// ListWeekly godoc
// @Summary List a teacher's weekly availability
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/availability [get]
func (h *AvailabilityHandler) ListWeekly(c *gin.Context) {
	items, err := h.availability.ListWeekly(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ReplaceWeekly godoc
// @Summary Replace a teacher's weekly availability
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body service.ReplaceWeeklyAvailabilityRequest true "Weekly entries"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/availability [put]
func (h *AvailabilityHandler) ReplaceWeekly(c *gin.Context) {
	var req service.ReplaceWeeklyAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid availability payload"))
		return
	}
	items, err := h.availability.ReplaceWeekly(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// ListBlocks godoc
// @Summary List a teacher's blocked periods
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/blocks [get]
func (h *AvailabilityHandler) ListBlocks(c *gin.Context) {
	blocks, err := h.availability.ListBlocks(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, blocks, nil)
}

// AddBlock godoc
// @Summary Block a one-off period
// @Tags Availability
// @Accept json
// @Produce json
// @Param id path string true "Teacher ID"
// @Param payload body service.CreateBlockRequest true "Block payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /teachers/{id}/blocks [post]
func (h *AvailabilityHandler) AddBlock(c *gin.Context) {
	var req service.CreateBlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid block payload"))
		return
	}
	block, err := h.availability.AddBlock(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, block)
}

// RemoveBlock godoc
// @Summary Remove a blocked period
// @Tags Availability
// @Param id path string true "Teacher ID"
// @Param blockId path string true "Block ID"
// @Success 204
// @Router /teachers/{id}/blocks/{blockId} [delete]
func (h *AvailabilityHandler) RemoveBlock(c *gin.Context) {
	if err := h.availability.RemoveBlock(c.Request.Context(), c.Param("id"), c.Param("blockId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// FreeSlots godoc
// @Summary Query a teacher's free intervals
// @Tags Availability
// @Produce json
// @Param id path string true "Teacher ID"
// @Param from query string true "From date (YYYY-MM-DD)"
// @Param to query string true "To date (YYYY-MM-DD), inclusive"
// @Success 200 {object} response.Envelope
// @Router /teachers/{id}/free-slots [get]
func (h *AvailabilityHandler) FreeSlots(c *gin.Context) {
	from, to, err := dateRangeQuery(c, true)
	if err != nil {
		response.Error(c, err)
		return
	}
	slots, err := h.availability.FreeSlots(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, slots, nil, map[string]interface{}{"from": from, "to": to})
}
