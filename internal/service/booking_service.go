package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/availability"
	"github.com/noah-isme/tutor-booking-api/internal/models"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

type bookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	CreateSeries(ctx context.Context, bookings []models.Booking) error
	FindByID(ctx context.Context, id string) (*models.Booking, error)
	Update(ctx context.Context, booking *models.Booking) error
	List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error)
	ListConfirmedThrough(ctx context.Context, date models.CalendarDate, limit int) ([]models.Booking, error)
}

type teacherDirectory interface {
	FindByID(ctx context.Context, id string) (*models.Teacher, error)
}

type subjectCatalog interface {
	FindByCode(ctx context.Context, code string) (*models.Subject, error)
}

type slotLedger interface {
	Reserve(ctx context.Context, teacherID string, iv models.Interval, opts ...availability.ReserveOption) (availability.ReservationToken, error)
	ReserveAll(ctx context.Context, teacherID string, intervals []models.Interval, opts ...availability.ReserveOption) ([]availability.ReservationToken, error)
	Bind(token availability.ReservationToken, bookingID string) error
	Abandon(token availability.ReservationToken)
	Release(ctx context.Context, teacherID string, iv models.Interval)
	Prune(before models.CalendarDate) int
	Invalidate(teacherID string)
}

type bookingEventEmitter interface {
	Emit(ctx context.Context, event models.BookingEvent)
}

type slotCacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// CreateBookingRequest is the payload for booking a teacher interval.
type CreateBookingRequest struct {
	StudentID      string              `json:"student_id" validate:"required"`
	TeacherID      string              `json:"teacher_id" validate:"required"`
	Subject        string              `json:"subject" validate:"required,max=64"`
	Date           models.CalendarDate `json:"date"`
	StartTime      string              `json:"start_time" validate:"required"`
	EndTime        string              `json:"end_time" validate:"required"`
	ClassType      models.ClassType    `json:"class_type" validate:"omitempty,oneof=ONE_TIME RECURRING"`
	RecurringDays  []models.DayOfWeek  `json:"recurring_days" validate:"omitempty,max=7,dive,oneof=MONDAY TUESDAY WEDNESDAY THURSDAY FRIDAY SATURDAY SUNDAY"`
	RecurringWeeks int                 `json:"recurring_weeks" validate:"omitempty,min=1,max=52"`
}

// CancelBookingRequest carries an optional cancellation reason.
type CancelBookingRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// BookingServiceConfig holds booking policy.
type BookingServiceConfig struct {
	AutoConfirm    bool
	RecurringWeeks int
	Location       *time.Location
	SweepBatchSize int
}

// BookingService resolves booking requests against the availability ledger
// and drives the booking state machine.
type BookingService struct {
	repo      bookingRepository
	teachers  teacherDirectory
	subjects  subjectCatalog
	ledger    slotLedger
	events    bookingEventEmitter
	cache     slotCacheInvalidator
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       BookingServiceConfig
	now       func() time.Time
	locks     *keyedMutex
}

// NewBookingService builds the booking service. events, cache and metrics may be nil.
func NewBookingService(
	repo bookingRepository,
	teachers teacherDirectory,
	subjects subjectCatalog,
	ledger slotLedger,
	events bookingEventEmitter,
	cache slotCacheInvalidator,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg BookingServiceConfig,
) *BookingService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RecurringWeeks <= 0 {
		cfg.RecurringWeeks = 4
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	return &BookingService{
		repo:      repo,
		teachers:  teachers,
		subjects:  subjects,
		ledger:    ledger,
		events:    events,
		cache:     cache,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
		locks:     newKeyedMutex(),
	}
}

// CreateBooking validates the request, reserves the interval (or every
// occurrence of a recurring series) and persists the booking. Nothing is held
// if any step fails.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	iv, err := s.parseInterval(req.Date, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	if err := s.ensureNotPast(iv); err != nil {
		return nil, err
	}
	teacher, err := s.bookableTeacher(ctx, req.TeacherID)
	if err != nil {
		return nil, err
	}
	subject, err := s.subjects.FindByCode(ctx, strings.TrimSpace(req.Subject))
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subject")
	}
	if !teacher.Teaches(subject.Code) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "teacher does not offer this subject")
	}

	template := models.Booking{
		StudentID: req.StudentID,
		TeacherID: req.TeacherID,
		Subject:   subject.Code,
		Status:    s.initialStatus(),
		ClassType: models.ClassTypeOneTime,
	}

	var created *models.Booking
	if req.ClassType == models.ClassTypeRecurring {
		weeks := req.RecurringWeeks
		if weeks <= 0 {
			weeks = s.cfg.RecurringWeeks
		}
		created, err = s.createSeries(ctx, template, availability.Occurrences(iv, req.RecurringDays, weeks))
	} else {
		created, err = s.createOne(ctx, template, iv)
	}
	if err != nil {
		return nil, err
	}

	s.invalidateSlots(ctx, created.TeacherID)
	s.emit(ctx, models.BookingEventCreated, created, nil)
	for i := range created.Occurrences {
		s.emit(ctx, models.BookingEventCreated, &created.Occurrences[i], nil)
	}
	s.logger.Info("booking created",
		zap.String("booking_id", created.ID),
		zap.String("teacher_id", created.TeacherID),
		zap.String("interval", created.Interval.String()),
		zap.String("status", string(created.Status)),
		zap.Int("occurrences", len(created.Occurrences)),
	)
	return created, nil
}

func (s *BookingService) createOne(ctx context.Context, booking models.Booking, iv models.Interval) (*models.Booking, error) {
	start := time.Now()
	token, err := s.ledger.Reserve(ctx, booking.TeacherID, iv)
	s.observeReserve(err, time.Since(start))
	if err != nil {
		s.record("create", err)
		return nil, err
	}

	booking.ID = uuid.NewString()
	booking.Interval = iv
	if err := s.repo.Create(ctx, &booking); err != nil {
		s.resync(booking.TeacherID, "create", err)
		s.ledger.Abandon(token)
		s.record("create", err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
	}
	if err := s.ledger.Bind(token, booking.ID); err != nil {
		s.resync(booking.TeacherID, "create", err)
	}
	s.record("create", nil)
	return &booking, nil
}

func (s *BookingService) createSeries(ctx context.Context, template models.Booking, intervals []models.Interval) (*models.Booking, error) {
	start := time.Now()
	tokens, err := s.ledger.ReserveAll(ctx, template.TeacherID, intervals)
	s.observeReserve(err, time.Since(start))
	if err != nil {
		s.record("create_series", err)
		return nil, err
	}

	seriesID := uuid.NewString()
	bookings := make([]models.Booking, len(intervals))
	for i, iv := range intervals {
		b := template
		b.ID = uuid.NewString()
		b.SeriesID = &seriesID
		b.ClassType = models.ClassTypeRecurring
		b.Interval = iv
		bookings[i] = b
	}

	if err := s.repo.CreateSeries(ctx, bookings); err != nil {
		s.resync(template.TeacherID, "create_series", err)
		for _, token := range tokens {
			s.ledger.Abandon(token)
		}
		s.record("create_series", err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking series")
	}
	for i, token := range tokens {
		if err := s.ledger.Bind(token, bookings[i].ID); err != nil {
			s.resync(template.TeacherID, "create_series", err)
		}
	}
	s.record("create_series", nil)

	anchor := bookings[0]
	anchor.Occurrences = bookings[1:]
	return &anchor, nil
}

// Get returns a booking by id.
func (s *BookingService) Get(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.WithDetails(appErrors.ErrBookingNotFound, map[string]string{"booking_id": id})
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	return booking, nil
}

// List returns bookings matching the filter with pagination metadata.
func (s *BookingService) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, *models.Pagination, error) {
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	return bookings, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// ConfirmBooking moves a pending booking to confirmed. The interval stays held.
func (s *BookingService) ConfirmBooking(ctx context.Context, id string) (*models.Booking, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.loadForTransition(ctx, id, models.BookingStatusConfirmed, models.BookingStatusPending)
	if err != nil {
		s.record("confirm", err)
		return nil, err
	}
	booking.Status = models.BookingStatusConfirmed
	if err := s.repo.Update(ctx, booking); err != nil {
		s.record("confirm", err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm booking")
	}
	s.record("confirm", nil)
	s.emit(ctx, models.BookingEventConfirmed, booking, nil)
	return booking, nil
}

// CancelBooking cancels a pending or confirmed booking and frees its interval.
func (s *BookingService) CancelBooking(ctx context.Context, id string, req CancelBookingRequest) (*models.Booking, error) {
	return s.cancel(ctx, id, req, "cancel", models.BookingEventCancelled, models.BookingStatusPending, models.BookingStatusConfirmed)
}

// RejectBooking lets the teacher decline a pending booking, freeing its interval.
func (s *BookingService) RejectBooking(ctx context.Context, id string, req CancelBookingRequest) (*models.Booking, error) {
	return s.cancel(ctx, id, req, "reject", models.BookingEventRejected, models.BookingStatusPending)
}

func (s *BookingService) cancel(ctx context.Context, id string, req CancelBookingRequest, op string, eventType models.BookingEventType, allowed ...models.BookingStatus) (*models.Booking, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid cancellation payload")
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.loadForTransition(ctx, id, models.BookingStatusCancelled, allowed...)
	if err != nil {
		s.record(op, err)
		return nil, err
	}

	now := s.now().UTC()
	booking.Status = models.BookingStatusCancelled
	booking.CancelledAt = &now
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		booking.CancelReason = &reason
	}
	if err := s.repo.Update(ctx, booking); err != nil {
		s.resync(booking.TeacherID, op, err)
		s.record(op, err)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to cancel booking")
	}
	s.ledger.Release(ctx, booking.TeacherID, booking.Interval)
	s.invalidateSlots(ctx, booking.TeacherID)

	s.record(op, nil)
	s.emit(ctx, eventType, booking, nil)
	s.logger.Info("booking cancelled", zap.String("booking_id", booking.ID), zap.String("operation", op))
	return booking, nil
}

// CompleteBooking marks a confirmed booking completed once its interval has ended.
func (s *BookingService) CompleteBooking(ctx context.Context, id string) (*models.Booking, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	booking, err := s.complete(ctx, id)
	s.record("complete", err)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, models.BookingEventCompleted, booking, nil)
	return booking, nil
}

// complete must be called with the booking lock held.
func (s *BookingService) complete(ctx context.Context, id string) (*models.Booking, error) {
	booking, err := s.loadForTransition(ctx, id, models.BookingStatusCompleted, models.BookingStatusConfirmed)
	if err != nil {
		return nil, err
	}
	if s.now().Before(booking.End(s.cfg.Location)) {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrInvalidTransition, "booking has not ended yet"),
			models.TransitionDetails{BookingID: booking.ID, From: booking.Status, To: models.BookingStatusCompleted},
		)
	}
	booking.Status = models.BookingStatusCompleted
	if err := s.repo.Update(ctx, booking); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete booking")
	}
	s.ledger.Release(ctx, booking.TeacherID, booking.Interval)
	return booking, nil
}

// CompleteElapsed completes every confirmed booking whose interval has ended
// and prunes past claims from the ledger. It returns the number completed.
func (s *BookingService) CompleteElapsed(ctx context.Context) (int, error) {
	now := s.now()
	today := models.DateOf(now.In(s.cfg.Location))
	candidates, err := s.repo.ListConfirmedThrough(ctx, today, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list elapsed bookings")
	}

	completed := 0
	for _, candidate := range candidates {
		if now.Before(candidate.End(s.cfg.Location)) {
			continue
		}
		unlock := s.locks.Lock(candidate.ID)
		booking, err := s.complete(ctx, candidate.ID)
		unlock()
		if err != nil {
			if !appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code) {
				s.logger.Warn("auto-complete failed", zap.String("booking_id", candidate.ID), zap.Error(err))
			}
			continue
		}
		completed++
		s.record("auto_complete", nil)
		s.emit(ctx, models.BookingEventCompleted, booking, nil)
	}

	if pruned := s.ledger.Prune(today); pruned > 0 {
		s.logger.Debug("ledger pruned", zap.Int("claims", pruned))
	}
	return completed, nil
}

// StartCompletionSweeper runs CompleteElapsed on every tick until ctx ends.
func (s *BookingService) StartCompletionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.CompleteElapsed(ctx)
				if err != nil {
					s.logger.Sugar().Warnw("completion sweep failed", "error", err)
					continue
				}
				if n > 0 {
					s.logger.Sugar().Infow("completion sweep", "completed", n)
				}
			}
		}
	}()
}

// loadForTransition fetches the booking and checks its status is one of allowed.
func (s *BookingService) loadForTransition(ctx context.Context, id string, to models.BookingStatus, allowed ...models.BookingStatus) (*models.Booking, error) {
	booking, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, status := range allowed {
		if booking.Status == status {
			return booking, nil
		}
	}
	return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, models.TransitionDetails{BookingID: booking.ID, From: booking.Status, To: to})
}

func (s *BookingService) parseInterval(date models.CalendarDate, startRaw, endRaw string) (models.Interval, error) {
	if date.IsZero() {
		return models.Interval{}, appErrors.Clone(appErrors.ErrInvalidInterval, "date is required")
	}
	start, err := models.ParseClock(startRaw)
	if err != nil {
		return models.Interval{}, appErrors.Wrap(err, appErrors.ErrInvalidInterval.Code, appErrors.ErrInvalidInterval.Status, "invalid start_time")
	}
	end, err := models.ParseClock(endRaw)
	if err != nil {
		return models.Interval{}, appErrors.Wrap(err, appErrors.ErrInvalidInterval.Code, appErrors.ErrInvalidInterval.Status, "invalid end_time")
	}
	return models.NewInterval(date, start, end)
}

func (s *BookingService) ensureNotPast(iv models.Interval) error {
	if iv.Start(s.cfg.Location).Before(s.now()) {
		return appErrors.WithDetails(appErrors.ErrPastDate, iv)
	}
	return nil
}

// resync drops the teacher's ledger view after a store write with an unknown
// outcome. The next ledger operation reloads the teacher from the store.
func (s *BookingService) resync(teacherID, op string, cause error) {
	s.ledger.Invalidate(teacherID)
	s.logger.Warn("ledger resync scheduled",
		zap.String("teacher_id", teacherID),
		zap.String("operation", op),
		zap.Error(cause),
	)
}

func (s *BookingService) bookableTeacher(ctx context.Context, teacherID string) (*models.Teacher, error) {
	teacher, err := s.teachers.FindByID(ctx, teacherID)
	if err != nil {
		if isNoRows(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	if !teacher.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "teacher is not accepting bookings")
	}
	return teacher, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func (s *BookingService) initialStatus() models.BookingStatus {
	if s.cfg.AutoConfirm {
		return models.BookingStatusConfirmed
	}
	return models.BookingStatusPending
}

func (s *BookingService) emit(ctx context.Context, eventType models.BookingEventType, booking *models.Booking, previous *models.Interval) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, models.BookingEvent{
		ID:               uuid.NewString(),
		Type:             eventType,
		BookingID:        booking.ID,
		TeacherID:        booking.TeacherID,
		StudentID:        booking.StudentID,
		Status:           booking.Status,
		Interval:         booking.Interval,
		PreviousInterval: previous,
		OccurredAt:       s.now().UTC(),
	})
}

func (s *BookingService) invalidateSlots(ctx context.Context, teacherID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, freeSlotsCachePattern(teacherID)); err != nil {
		s.logger.Warn("free slot cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

func (s *BookingService) record(operation string, err error) {
	s.metrics.RecordBookingOperation(operation, outcomeOf(err))
}

func (s *BookingService) observeReserve(err error, d time.Duration) {
	s.metrics.ObserveReserve(outcomeOf(err), d)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case appErrors.HasCode(err, appErrors.ErrSlotUnavailable.Code):
		return OutcomeConflict
	case appErrors.HasCode(err, appErrors.ErrInternal.Code):
		return OutcomeError
	default:
		return OutcomeRejected
	}
}

// keyedMutex serialises work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
