package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

type availabilityRepository interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.WeeklyAvailability, error)
	ReplaceForTeacher(ctx context.Context, teacherID string, entries []models.WeeklyAvailability) error
	ListBlocksByTeacher(ctx context.Context, teacherID string) ([]models.BlockedInterval, error)
	CreateBlock(ctx context.Context, block *models.BlockedInterval) error
	DeleteBlock(ctx context.Context, teacherID, blockID string) (bool, error)
}

type availabilityLedger interface {
	VersionedFreeSlots(ctx context.Context, teacherID string, from, to models.CalendarDate) ([]models.Interval, uint64, error)
	Version(teacherID string) uint64
	Block(ctx context.Context, block models.BlockedInterval) error
	Unblock(teacherID, blockID string)
	SetSchedule(teacherID string, availability []models.WeeklyAvailability)
}

type slotCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

// WeeklyAvailabilityInput declares one recurring open window.
type WeeklyAvailabilityInput struct {
	DayOfWeek      string               `json:"day_of_week" validate:"required"`
	StartTime      string               `json:"start_time" validate:"required"`
	EndTime        string               `json:"end_time" validate:"required"`
	EffectiveFrom  models.CalendarDate  `json:"effective_from"`
	EffectiveUntil *models.CalendarDate `json:"effective_until"`
}

// ReplaceWeeklyAvailabilityRequest replaces a teacher's whole weekly declaration.
type ReplaceWeeklyAvailabilityRequest struct {
	Entries []WeeklyAvailabilityInput `json:"entries" validate:"max=100,dive"`
}

// CreateBlockRequest marks a one-off period as unavailable.
type CreateBlockRequest struct {
	Date      models.CalendarDate `json:"date"`
	StartTime string              `json:"start_time" validate:"required"`
	EndTime   string              `json:"end_time" validate:"required"`
	Reason    string              `json:"reason" validate:"max=255"`
}

// AvailabilityServiceConfig tunes free-slot queries.
type AvailabilityServiceConfig struct {
	MaxWindowDays int
	CacheTTL      time.Duration
}

// AvailabilityService manages teacher schedules and answers free-slot queries.
type AvailabilityService struct {
	repo      availabilityRepository
	teachers  teacherDirectory
	ledger    availabilityLedger
	cache     slotCache
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AvailabilityServiceConfig
	now       func() time.Time
}

// NewAvailabilityService builds the service. cache may be nil.
func NewAvailabilityService(repo availabilityRepository, teachers teacherDirectory, ledger availabilityLedger, cache slotCache, validate *validator.Validate, logger *zap.Logger, cfg AvailabilityServiceConfig) *AvailabilityService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxWindowDays <= 0 {
		cfg.MaxWindowDays = 62
	}
	return &AvailabilityService{
		repo:      repo,
		teachers:  teachers,
		ledger:    ledger,
		cache:     cache,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// ListWeekly returns the teacher's weekly declarations.
func (s *AvailabilityService) ListWeekly(ctx context.Context, teacherID string) ([]models.WeeklyAvailability, error) {
	if err := s.ensureTeacherExists(ctx, teacherID); err != nil {
		return nil, err
	}
	items, err := s.repo.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load availability")
	}
	return items, nil
}

// ReplaceWeekly validates and stores a new weekly declaration. Existing
// bookings are untouched even if they now fall outside declared time.
func (s *AvailabilityService) ReplaceWeekly(ctx context.Context, teacherID string, req ReplaceWeeklyAvailabilityRequest) ([]models.WeeklyAvailability, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid availability payload")
	}
	if err := s.ensureTeacherExists(ctx, teacherID); err != nil {
		return nil, err
	}

	entries := make([]models.WeeklyAvailability, 0, len(req.Entries))
	for i, in := range req.Entries {
		entry, err := s.toEntry(teacherID, in)
		if err != nil {
			return nil, appErrors.WithDetails(appErrors.FromError(err), map[string]interface{}{"entry": i})
		}
		entries = append(entries, entry)
	}
	if err := checkEntryOverlaps(entries); err != nil {
		return nil, err
	}

	if err := s.repo.ReplaceForTeacher(ctx, teacherID, entries); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store availability")
	}
	s.ledger.SetSchedule(teacherID, entries)
	s.invalidate(ctx, teacherID)
	s.logger.Info("weekly availability replaced", zap.String("teacher_id", teacherID), zap.Int("entries", len(entries)))
	return entries, nil
}

func (s *AvailabilityService) toEntry(teacherID string, in WeeklyAvailabilityInput) (models.WeeklyAvailability, error) {
	day, err := models.ParseDayOfWeek(in.DayOfWeek)
	if err != nil {
		return models.WeeklyAvailability{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid day_of_week")
	}
	start, err := models.ParseClock(in.StartTime)
	if err != nil {
		return models.WeeklyAvailability{}, appErrors.Wrap(err, appErrors.ErrInvalidInterval.Code, appErrors.ErrInvalidInterval.Status, "invalid start_time")
	}
	end, err := models.ParseClock(in.EndTime)
	if err != nil {
		return models.WeeklyAvailability{}, appErrors.Wrap(err, appErrors.ErrInvalidInterval.Code, appErrors.ErrInvalidInterval.Status, "invalid end_time")
	}
	if start >= end {
		return models.WeeklyAvailability{}, appErrors.Clone(appErrors.ErrInvalidInterval, "start_time must be before end_time")
	}
	from := in.EffectiveFrom
	if from.IsZero() {
		from = models.DateOf(s.now())
	}
	if in.EffectiveUntil != nil && in.EffectiveUntil.Before(from) {
		return models.WeeklyAvailability{}, appErrors.Clone(appErrors.ErrValidation, "effective_until must not be before effective_from")
	}
	return models.WeeklyAvailability{
		ID:             uuid.NewString(),
		TeacherID:      teacherID,
		DayOfWeek:      day,
		StartMinute:    start,
		EndMinute:      end,
		EffectiveFrom:  from,
		EffectiveUntil: in.EffectiveUntil,
	}, nil
}

// checkEntryOverlaps rejects two windows on the same weekday that overlap in
// time while their effective ranges intersect.
func checkEntryOverlaps(entries []models.WeeklyAvailability) error {
	for i := range entries {
		for j := i + 1; j < len(entries); j++ {
			a, b := entries[i], entries[j]
			if a.DayOfWeek != b.DayOfWeek {
				continue
			}
			if a.StartMinute >= b.EndMinute || b.StartMinute >= a.EndMinute {
				continue
			}
			if !rangesIntersect(a, b) {
				continue
			}
			return appErrors.WithDetails(
				appErrors.Clone(appErrors.ErrValidation, "availability entries overlap"),
				map[string]interface{}{"entries": []int{i, j}, "day_of_week": a.DayOfWeek},
			)
		}
	}
	return nil
}

func rangesIntersect(a, b models.WeeklyAvailability) bool {
	if a.EffectiveUntil != nil && a.EffectiveUntil.Before(b.EffectiveFrom) {
		return false
	}
	if b.EffectiveUntil != nil && b.EffectiveUntil.Before(a.EffectiveFrom) {
		return false
	}
	return true
}

// ListBlocks returns the teacher's one-off blocks.
func (s *AvailabilityService) ListBlocks(ctx context.Context, teacherID string) ([]models.BlockedInterval, error) {
	if err := s.ensureTeacherExists(ctx, teacherID); err != nil {
		return nil, err
	}
	blocks, err := s.repo.ListBlocksByTeacher(ctx, teacherID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load blocks")
	}
	return blocks, nil
}

// AddBlock records a one-off unavailable period. It fails with
// SLOT_UNAVAILABLE when a pending or confirmed booking overlaps it.
func (s *AvailabilityService) AddBlock(ctx context.Context, teacherID string, req CreateBlockRequest) (*models.BlockedInterval, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid block payload")
	}
	if req.Date.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrInvalidInterval, "date is required")
	}
	start, err := models.ParseClock(req.StartTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInterval.Code, appErrors.ErrInvalidInterval.Status, "invalid start_time")
	}
	end, err := models.ParseClock(req.EndTime)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidInterval.Code, appErrors.ErrInvalidInterval.Status, "invalid end_time")
	}
	iv, err := models.NewInterval(req.Date, start, end)
	if err != nil {
		return nil, err
	}
	if err := s.ensureTeacherExists(ctx, teacherID); err != nil {
		return nil, err
	}

	block := models.BlockedInterval{
		ID:        uuid.NewString(),
		TeacherID: teacherID,
		Interval:  iv,
		Reason:    strings.TrimSpace(req.Reason),
	}
	if err := s.ledger.Block(ctx, block); err != nil {
		return nil, err
	}
	if err := s.repo.CreateBlock(ctx, &block); err != nil {
		s.ledger.Unblock(teacherID, block.ID)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store block")
	}
	s.invalidate(ctx, teacherID)
	return &block, nil
}

// RemoveBlock deletes a teacher block.
func (s *AvailabilityService) RemoveBlock(ctx context.Context, teacherID, blockID string) error {
	deleted, err := s.repo.DeleteBlock(ctx, teacherID, blockID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete block")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "block not found")
	}
	s.ledger.Unblock(teacherID, blockID)
	s.invalidate(ctx, teacherID)
	return nil
}

// FreeSlots returns the teacher's bookable intervals between from and to inclusive.
func (s *AvailabilityService) FreeSlots(ctx context.Context, teacherID string, from, to models.CalendarDate) ([]models.Interval, error) {
	if from.IsZero() || to.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "from and to are required")
	}
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	if days := from.DaysUntil(to) + 1; days > s.cfg.MaxWindowDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("window may span at most %d days", s.cfg.MaxWindowDays))
	}
	if err := s.ensureTeacherExists(ctx, teacherID); err != nil {
		return nil, err
	}

	// Entries are keyed by the ledger version they were computed at, so a write
	// racing with this read can only orphan an entry, never make it stale.
	if s.cache != nil {
		var cached []models.Interval
		key := freeSlotsCacheKey(teacherID, s.ledger.Version(teacherID), from, to)
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached, nil
		}
	}

	slots, version, err := s.ledger.VersionedFreeSlots(ctx, teacherID, from, to)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []models.Interval{}
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, freeSlotsCacheKey(teacherID, version, from, to), slots, s.cfg.CacheTTL)
	}
	return slots, nil
}

func (s *AvailabilityService) ensureTeacherExists(ctx context.Context, teacherID string) error {
	if _, err := s.teachers.FindByID(ctx, teacherID); err != nil {
		if isNoRows(err) {
			return appErrors.Clone(appErrors.ErrNotFound, "teacher not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher")
	}
	return nil
}

func (s *AvailabilityService) invalidate(ctx context.Context, teacherID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, freeSlotsCachePattern(teacherID)); err != nil {
		s.logger.Warn("free slot cache invalidation failed", zap.String("teacher_id", teacherID), zap.Error(err))
	}
}

func freeSlotsCacheKey(teacherID string, version uint64, from, to models.CalendarDate) string {
	return fmt.Sprintf("free-slots:%s:%d:%s:%s", teacherID, version, from, to)
}

func freeSlotsCachePattern(teacherID string) string {
	return fmt.Sprintf("free-slots:%s:*", teacherID)
}
