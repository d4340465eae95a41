package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

// BookingSource loads the bookings currently occupying a teacher's time.
type BookingSource interface {
	ListActiveByTeacher(ctx context.Context, teacherID string) ([]models.Booking, error)
}

// ScheduleSource loads a teacher's declared availability and blocks.
type ScheduleSource interface {
	ListByTeacher(ctx context.Context, teacherID string) ([]models.WeeklyAvailability, error)
	ListBlocksByTeacher(ctx context.Context, teacherID string) ([]models.BlockedInterval, error)
}

// Config tunes ledger policy.
type Config struct {
	// EnforceAvailability rejects reservations outside the teacher's declared open time.
	EnforceAvailability bool
}

// ReservationToken identifies a claim recorded by Reserve until it is bound to a booking.
type ReservationToken struct {
	ID        string          `json:"id"`
	TeacherID string          `json:"teacher_id"`
	Interval  models.Interval `json:"interval"`
}

// ReserveOption customises a reservation.
type ReserveOption func(*reserveOptions)

type reserveOptions struct {
	excludeOwner string
}

// ExcludeOwner ignores claims already held by bookingID when checking overlap.
func ExcludeOwner(bookingID string) ReserveOption {
	return func(o *reserveOptions) { o.excludeOwner = bookingID }
}

type claim struct {
	token    string
	owner    string
	interval models.Interval
}

type teacherBook struct {
	mu           sync.Mutex
	loaded       bool
	availability []models.WeeklyAvailability
	blocks       []models.BlockedInterval
	claims       map[models.CalendarDate][]claim
	// version moves on every change to the teacher's free time.
	version uint64
}

func (b *teacherBook) touch() {
	b.version++
}

// Ledger is the authoritative in-memory view of each teacher's open and
// claimed time. All mutations for a teacher run under that teacher's mutex, so
// an overlap check and the claim it guards are never separated.
//
// The guarantee holds within one process only. Run a single instance per set
// of teachers.
type Ledger struct {
	bookings  BookingSource
	schedules ScheduleSource
	cfg       Config
	logger    *zap.Logger

	mu       sync.Mutex
	teachers map[string]*teacherBook
	// epoch seeds new teacher versions so they never repeat across restarts.
	epoch uint64
}

// NewLedger constructs a ledger backed by the given stores.
func NewLedger(bookings BookingSource, schedules ScheduleSource, cfg Config, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		bookings:  bookings,
		schedules: schedules,
		cfg:       cfg,
		logger:    logger,
		teachers:  make(map[string]*teacherBook),
		epoch:     uint64(time.Now().UnixNano()),
	}
}

func (l *Ledger) book(teacherID string) *teacherBook {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.teachers[teacherID]
	if !ok {
		b = &teacherBook{claims: make(map[models.CalendarDate][]claim), version: l.epoch}
		l.teachers[teacherID] = b
	}
	return b
}

// ensureLoaded must be called with b.mu held. Provisional (unbound) claims
// survive a reload because their bookings are not in the store yet.
func (l *Ledger) ensureLoaded(ctx context.Context, teacherID string, b *teacherBook) error {
	if b.loaded {
		return nil
	}
	availability, err := l.schedules.ListByTeacher(ctx, teacherID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher availability")
	}
	blocks, err := l.schedules.ListBlocksByTeacher(ctx, teacherID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher blocks")
	}
	bookings, err := l.bookings.ListActiveByTeacher(ctx, teacherID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher bookings")
	}

	claims := make(map[models.CalendarDate][]claim)
	for date, items := range b.claims {
		for _, c := range items {
			if c.owner == "" {
				claims[date] = append(claims[date], c)
			}
		}
	}
	for _, bk := range bookings {
		if !bk.Status.Occupies() {
			continue
		}
		claims[bk.Date] = append(claims[bk.Date], claim{token: uuid.NewString(), owner: bk.ID, interval: bk.Interval})
	}

	b.availability = availability
	b.blocks = blocks
	b.claims = claims
	b.loaded = true
	b.touch()
	l.logger.Debug("ledger loaded",
		zap.String("teacher_id", teacherID),
		zap.Int("availability", len(availability)),
		zap.Int("blocks", len(blocks)),
		zap.Int("bookings", len(bookings)),
	)
	return nil
}

// FreeSlots returns the teacher's open intervals in [from, to]: declared
// availability minus blocks minus pending/confirmed claims, sorted.
func (l *Ledger) FreeSlots(ctx context.Context, teacherID string, from, to models.CalendarDate) ([]models.Interval, error) {
	free, _, err := l.VersionedFreeSlots(ctx, teacherID, from, to)
	return free, err
}

// VersionedFreeSlots is FreeSlots plus the teacher version the answer was computed at.
// The result stays valid exactly as long as Version reports the same value.
func (l *Ledger) VersionedFreeSlots(ctx context.Context, teacherID string, from, to models.CalendarDate) ([]models.Interval, uint64, error) {
	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := l.ensureLoaded(ctx, teacherID, b); err != nil {
		return nil, 0, err
	}

	open := l.openIntervals(b, from, to)
	free := make([]models.Interval, 0, len(open))
	for _, iv := range open {
		cuts := make([]models.Interval, 0, len(b.claims[iv.Date]))
		for _, c := range b.claims[iv.Date] {
			cuts = append(cuts, c.interval)
		}
		free = append(free, subtractAll([]models.Interval{iv}, cuts)...)
	}
	models.SortIntervals(free)
	return free, b.version, nil
}

// Version returns the teacher's current version without loading it from the store.
func (l *Ledger) Version(teacherID string) uint64 {
	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// openIntervals is declared availability minus blocks, ignoring claims.
func (l *Ledger) openIntervals(b *teacherBook, from, to models.CalendarDate) []models.Interval {
	declared := ExpandAll(b.availability, from, to)
	var blocks []models.Interval
	for _, blk := range b.blocks {
		if blk.Date.Before(from) || blk.Date.After(to) {
			continue
		}
		blocks = append(blocks, blk.Interval)
	}
	return subtractAll(declared, blocks)
}

// Reserve atomically checks iv against the teacher's claims (and, by policy,
// open time) and records a provisional claim on success.
func (l *Ledger) Reserve(ctx context.Context, teacherID string, iv models.Interval, opts ...ReserveOption) (ReservationToken, error) {
	tokens, err := l.ReserveAll(ctx, teacherID, []models.Interval{iv}, opts...)
	if err != nil {
		return ReservationToken{}, err
	}
	return tokens[0], nil
}

// ReserveAll reserves every interval or none of them.
func (l *Ledger) ReserveAll(ctx context.Context, teacherID string, intervals []models.Interval, opts ...ReserveOption) ([]ReservationToken, error) {
	if len(intervals) == 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidInterval, "no intervals to reserve")
	}
	for _, iv := range intervals {
		if err := iv.Validate(); err != nil {
			return nil, err
		}
	}
	var o reserveOptions
	for _, opt := range opts {
		opt(&o)
	}

	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := l.ensureLoaded(ctx, teacherID, b); err != nil {
		return nil, err
	}

	for i, iv := range intervals {
		if err := l.checkLocked(b, teacherID, iv, o.excludeOwner); err != nil {
			return nil, err
		}
		for _, prev := range intervals[:i] {
			if prev.Overlaps(iv) {
				conflicting := prev
				return nil, slotUnavailable(models.SlotConflict{TeacherID: teacherID, Requested: iv, Conflicting: &conflicting, Reason: models.ConflictOverlap})
			}
		}
	}

	tokens := make([]ReservationToken, 0, len(intervals))
	for _, iv := range intervals {
		token := ReservationToken{ID: uuid.NewString(), TeacherID: teacherID, Interval: iv}
		b.claims[iv.Date] = append(b.claims[iv.Date], claim{token: token.ID, interval: iv})
		tokens = append(tokens, token)
	}
	b.touch()
	return tokens, nil
}

func (l *Ledger) checkLocked(b *teacherBook, teacherID string, iv models.Interval, excludeOwner string) error {
	for _, blk := range b.blocks {
		if blk.Interval.Overlaps(iv) {
			conflicting := blk.Interval
			return slotUnavailable(models.SlotConflict{TeacherID: teacherID, Requested: iv, Conflicting: &conflicting, Reason: models.ConflictBlocked})
		}
	}
	if l.cfg.EnforceAvailability {
		inside := false
		for _, open := range l.openIntervals(b, iv.Date, iv.Date) {
			if open.Contains(iv) {
				inside = true
				break
			}
		}
		if !inside {
			return slotUnavailable(models.SlotConflict{TeacherID: teacherID, Requested: iv, Reason: models.ConflictOutsideAvailability})
		}
	}
	for _, c := range b.claims[iv.Date] {
		if excludeOwner != "" && c.owner == excludeOwner {
			continue
		}
		if c.interval.Overlaps(iv) {
			conflicting := c.interval
			return slotUnavailable(models.SlotConflict{
				TeacherID:            teacherID,
				Requested:            iv,
				Conflicting:          &conflicting,
				ConflictingBookingID: c.owner,
				Reason:               models.ConflictOverlap,
			})
		}
	}
	return nil
}

// Bind consumes a reservation token, attaching the claim to its booking.
func (l *Ledger) Bind(token ReservationToken, bookingID string) error {
	b := l.book(token.TeacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.claims[token.Interval.Date]
	for i := range items {
		if items[i].token == token.ID {
			items[i].owner = bookingID
			return nil
		}
	}
	return fmt.Errorf("reservation %s not held", token.ID)
}

// Abandon drops a reservation that was never persisted. Unknown tokens are ignored.
func (l *Ledger) Abandon(token ReservationToken) {
	b := l.book(token.TeacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeWhere(token.Interval.Date, func(c claim) bool { return c.token == token.ID })
	b.touch()
}

// Release frees the claim on exactly iv. Releasing a free interval is a no-op.
func (l *Ledger) Release(ctx context.Context, teacherID string, iv models.Interval) {
	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		// The store is authoritative; the next load reflects the release.
		return
	}
	b.removeWhere(iv.Date, func(c claim) bool { return c.interval == iv })
	b.touch()
}

func (b *teacherBook) removeWhere(date models.CalendarDate, match func(claim) bool) {
	items := b.claims[date]
	kept := items[:0]
	for _, c := range items {
		if !match(c) {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		delete(b.claims, date)
		return
	}
	b.claims[date] = kept
}

// Block atomically records a teacher block unless it overlaps an active claim.
func (l *Ledger) Block(ctx context.Context, block models.BlockedInterval) error {
	if err := block.Interval.Validate(); err != nil {
		return err
	}
	b := l.book(block.TeacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := l.ensureLoaded(ctx, block.TeacherID, b); err != nil {
		return err
	}
	for _, c := range b.claims[block.Date] {
		if c.interval.Overlaps(block.Interval) {
			conflicting := c.interval
			return slotUnavailable(models.SlotConflict{
				TeacherID:            block.TeacherID,
				Requested:            block.Interval,
				Conflicting:          &conflicting,
				ConflictingBookingID: c.owner,
				Reason:               models.ConflictOverlap,
			})
		}
	}
	b.blocks = append(b.blocks, block)
	b.touch()
	return nil
}

// Unblock removes a teacher block by id.
func (l *Ledger) Unblock(teacherID, blockID string) {
	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.blocks[:0]
	for _, blk := range b.blocks {
		if blk.ID != blockID {
			kept = append(kept, blk)
		}
	}
	b.blocks = kept
	b.touch()
}

// SetSchedule replaces the teacher's declared weekly availability after it was persisted.
func (l *Ledger) SetSchedule(teacherID string, availability []models.WeeklyAvailability) {
	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return
	}
	b.availability = append([]models.WeeklyAvailability(nil), availability...)
	b.touch()
}

// Invalidate forces the teacher's view to be reloaded from the store on next use.
func (l *Ledger) Invalidate(teacherID string) {
	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = false
	b.touch()
}

// Claims returns the intervals currently held for the teacher in [from, to], sorted.
func (l *Ledger) Claims(ctx context.Context, teacherID string, from, to models.CalendarDate) ([]models.Interval, error) {
	b := l.book(teacherID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := l.ensureLoaded(ctx, teacherID, b); err != nil {
		return nil, err
	}
	var out []models.Interval
	for date, items := range b.claims {
		if date.Before(from) || date.After(to) {
			continue
		}
		for _, c := range items {
			out = append(out, c.interval)
		}
	}
	models.SortIntervals(out)
	return out, nil
}

// Prune drops bound claims and blocks dated before the cutoff from memory.
func (l *Ledger) Prune(before models.CalendarDate) int {
	l.mu.Lock()
	books := make([]*teacherBook, 0, len(l.teachers))
	for _, b := range l.teachers {
		books = append(books, b)
	}
	l.mu.Unlock()

	removed := 0
	for _, b := range books {
		b.mu.Lock()
		for date := range b.claims {
			if !date.Before(before) {
				continue
			}
			n := len(b.claims[date])
			b.removeWhere(date, func(c claim) bool { return c.owner != "" })
			removed += n - len(b.claims[date])
		}
		kept := b.blocks[:0]
		for _, blk := range b.blocks {
			if !blk.Date.Before(before) {
				kept = append(kept, blk)
			}
		}
		b.blocks = kept
		b.touch()
		b.mu.Unlock()
	}
	return removed
}

func slotUnavailable(conflict models.SlotConflict) error {
	return appErrors.WithDetails(appErrors.ErrSlotUnavailable, conflict)
}

// subtractAll removes every cut from base. Inputs are assumed valid.
func subtractAll(base, cuts []models.Interval) []models.Interval {
	remaining := append([]models.Interval(nil), base...)
	for _, cut := range cuts {
		next := remaining[:0:0]
		for _, iv := range remaining {
			pieces, err := iv.Subtract(cut)
			if err != nil {
				next = append(next, iv)
				continue
			}
			next = append(next, pieces...)
		}
		remaining = next
	}
	return remaining
}
