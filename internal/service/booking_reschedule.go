package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/availability"
	"github.com/noah-isme/tutor-booking-api/internal/models"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

// RescheduleBookingRequest moves a booking to a new interval with the same teacher.
type RescheduleBookingRequest struct {
	Date      models.CalendarDate `json:"date"`
	StartTime string              `json:"start_time" validate:"required"`
	EndTime   string              `json:"end_time" validate:"required"`
}

// Reschedule moves a pending or confirmed booking to a new interval. The new
// interval is reserved before the old one is released, so the booking never
// holds nothing and a conflict leaves it exactly as it was.
func (s *BookingService) Reschedule(ctx context.Context, id string, req RescheduleBookingRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}
	target, err := s.parseInterval(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.loadForTransition(ctx, id, s.initialStatus(), models.BookingStatusPending, models.BookingStatusConfirmed)
	if err != nil {
		s.record("reschedule", err)
		return nil, err
	}
	if booking.Interval == target {
		return booking, nil
	}
	if err := s.ensureNotPast(target); err != nil {
		s.record("reschedule", err)
		return nil, err
	}

	start := time.Now()
	token, err := s.ledger.Reserve(ctx, booking.TeacherID, target, availability.ExcludeOwner(booking.ID))
	s.observeReserve(err, time.Since(start))
	if err != nil {
		s.record("reschedule", err)
		return nil, err
	}

	previous := booking.Interval
	previousStatus := booking.Status
	booking.Interval = target
	booking.Status = s.initialStatus()
	if err := s.repo.Update(ctx, booking); err != nil {
		s.resync(booking.TeacherID, "reschedule", err)
		s.ledger.Abandon(token)
		booking.Interval = previous
		booking.Status = previousStatus
		s.record("reschedule", err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reschedule booking")
	}

	s.ledger.Release(ctx, booking.TeacherID, previous)
	if err := s.ledger.Bind(token, booking.ID); err != nil {
		s.resync(booking.TeacherID, "reschedule", err)
	}
	s.invalidateSlots(ctx, booking.TeacherID)

	s.record("reschedule", nil)
	s.emit(ctx, models.BookingEventRescheduled, booking, &previous)
	s.logger.Info("booking rescheduled",
		zap.String("booking_id", booking.ID),
		zap.String("from", previous.String()),
		zap.String("to", target.String()),
	)
	return booking, nil
}
