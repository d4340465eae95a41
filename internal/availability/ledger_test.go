package availability

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/tutor-booking-api/internal/models"
	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

type bookingSourceStub struct {
	bookings []models.Booking
	err      error
	calls    int
}

func (s *bookingSourceStub) ListActiveByTeacher(_ context.Context, teacherID string) ([]models.Booking, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	var out []models.Booking
	for _, b := range s.bookings {
		if b.TeacherID == teacherID && b.Status.Occupies() {
			out = append(out, b)
		}
	}
	return out, nil
}

type scheduleSourceStub struct {
	availability []models.WeeklyAvailability
	blocks       []models.BlockedInterval
}

func (s *scheduleSourceStub) ListByTeacher(context.Context, string) ([]models.WeeklyAvailability, error) {
	return s.availability, nil
}

func (s *scheduleSourceStub) ListBlocksByTeacher(context.Context, string) ([]models.BlockedInterval, error) {
	return s.blocks, nil
}

func span(start, end int) models.Interval {
	return models.Interval{Date: monday, StartMinute: start, EndMinute: end}
}

func newTestLedger(enforce bool, bookings ...models.Booking) (*Ledger, *bookingSourceStub, *scheduleSourceStub) {
	source := &bookingSourceStub{bookings: bookings}
	schedule := &scheduleSourceStub{availability: []models.WeeklyAvailability{weekly(models.Monday, 960, 1200)}}
	return NewLedger(source, schedule, Config{EnforceAvailability: enforce}, zap.NewNop()), source, schedule
}

func conflictOf(t *testing.T, err error) models.SlotConflict {
	t.Helper()
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, appErrors.ErrSlotUnavailable.Code, appErr.Code)
	conflict, ok := appErr.Details.(models.SlotConflict)
	require.True(t, ok)
	return conflict
}

func TestLedgerLoadsExistingBookings(t *testing.T) {
	ledger, source, _ := newTestLedger(true,
		models.Booking{ID: "b-1", TeacherID: "T1", Status: models.BookingStatusConfirmed, Interval: span(960, 1020)},
		models.Booking{ID: "b-2", TeacherID: "T1", Status: models.BookingStatusCancelled, Interval: span(1080, 1140)},
	)
	ctx := context.Background()

	free, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(1020, 1200)}, free)

	_, err = ledger.Reserve(ctx, "T1", span(990, 1050))
	conflict := conflictOf(t, err)
	assert.Equal(t, "b-1", conflict.ConflictingBookingID)
	assert.Equal(t, span(960, 1020), *conflict.Conflicting)
	assert.Equal(t, 1, source.calls)
}

func TestLedgerReserveReleaseRoundTrip(t *testing.T) {
	ledger, _, _ := newTestLedger(true)
	ctx := context.Background()

	before, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)

	token, err := ledger.Reserve(ctx, "T1", span(1020, 1080))
	require.NoError(t, err)
	require.NoError(t, ledger.Bind(token, "b-1"))

	during, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(960, 1020), span(1080, 1200)}, during)

	ledger.Release(ctx, "T1", span(1020, 1080))
	after, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	ledger.Release(ctx, "T1", span(1020, 1080))
	again, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, before, again)
}

func TestLedgerAdjacentIntervalsDoNotConflict(t *testing.T) {
	ledger, _, _ := newTestLedger(true)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "T1", span(960, 1020))
	require.NoError(t, err)
	_, err = ledger.Reserve(ctx, "T1", span(1020, 1080))
	require.NoError(t, err)

	claims, err := ledger.Claims(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(960, 1020), span(1020, 1080)}, claims)
}

func TestLedgerConcurrentReserveRace(t *testing.T) {
	ledger, _, _ := newTestLedger(true)
	const racers = 32

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := ledger.Reserve(context.Background(), "T1", span(960, 1020))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if appErrors.HasCode(err, appErrors.ErrSlotUnavailable.Code) {
				conflicts++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, conflicts)
}

func TestLedgerAvailabilityPolicy(t *testing.T) {
	strict, _, _ := newTestLedger(true)
	_, err := strict.Reserve(context.Background(), "T1", span(900, 990))
	assert.Equal(t, models.ConflictOutsideAvailability, conflictOf(t, err).Reason)

	lenient, _, _ := newTestLedger(false)
	_, err = lenient.Reserve(context.Background(), "T1", span(900, 990))
	assert.NoError(t, err)
}

func TestLedgerReserveAllIsAtomic(t *testing.T) {
	ledger, _, _ := newTestLedger(true)
	ctx := context.Background()
	next := models.Interval{Date: monday.AddDays(7), StartMinute: 960, EndMinute: 1020}

	_, err := ledger.Reserve(ctx, "T1", next)
	require.NoError(t, err)

	_, err = ledger.ReserveAll(ctx, "T1", []models.Interval{span(960, 1020), next})
	assert.Equal(t, models.ConflictOverlap, conflictOf(t, err).Reason)

	claims, err := ledger.Claims(ctx, "T1", monday, monday.AddDays(7))
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{next}, claims)

	_, err = ledger.ReserveAll(ctx, "T1", []models.Interval{span(960, 1020), span(990, 1050)})
	assert.Equal(t, models.ConflictOverlap, conflictOf(t, err).Reason)

	_, err = ledger.ReserveAll(ctx, "T1", nil)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidInterval.Code))
}

func TestLedgerAbandonAndExcludeOwner(t *testing.T) {
	ledger, _, _ := newTestLedger(true)
	ctx := context.Background()

	token, err := ledger.Reserve(ctx, "T1", span(960, 1020))
	require.NoError(t, err)
	ledger.Abandon(token)
	ledger.Abandon(token)
	assert.Error(t, ledger.Bind(token, "b-1"))

	token, err = ledger.Reserve(ctx, "T1", span(960, 1020))
	require.NoError(t, err)
	require.NoError(t, ledger.Bind(token, "b-1"))

	_, err = ledger.Reserve(ctx, "T1", span(990, 1050))
	require.Error(t, err)
	_, err = ledger.Reserve(ctx, "T1", span(990, 1050), ExcludeOwner("b-1"))
	assert.NoError(t, err)
}

func TestLedgerBlocks(t *testing.T) {
	ledger, _, _ := newTestLedger(true)
	ctx := context.Background()

	_, err := ledger.Reserve(ctx, "T1", span(960, 1020))
	require.NoError(t, err)

	err = ledger.Block(ctx, models.BlockedInterval{ID: "blk-0", TeacherID: "T1", Interval: span(1000, 1100)})
	assert.Equal(t, models.ConflictOverlap, conflictOf(t, err).Reason)

	require.NoError(t, ledger.Block(ctx, models.BlockedInterval{ID: "blk-1", TeacherID: "T1", Interval: span(1080, 1140)}))
	free, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(1020, 1080), span(1140, 1200)}, free)

	_, err = ledger.Reserve(ctx, "T1", span(1100, 1160))
	assert.Equal(t, models.ConflictBlocked, conflictOf(t, err).Reason)

	ledger.Unblock("T1", "blk-1")
	_, err = ledger.Reserve(ctx, "T1", span(1100, 1160))
	assert.NoError(t, err)
}

func TestLedgerSetScheduleAndInvalidate(t *testing.T) {
	ledger, source, schedule := newTestLedger(true)
	ctx := context.Background()

	_, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)

	ledger.SetSchedule("T1", []models.WeeklyAvailability{weekly(models.Monday, 540, 600)})
	free, err := ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(540, 600)}, free)

	token, err := ledger.Reserve(ctx, "T1", span(540, 570))
	require.NoError(t, err)

	schedule.availability = []models.WeeklyAvailability{weekly(models.Monday, 600, 660)}
	ledger.Invalidate("T1")
	free, err = ledger.FreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(600, 660)}, free)
	assert.Equal(t, 2, source.calls)

	claims, err := ledger.Claims(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{token.Interval}, claims)
}

func TestLedgerLoadFailure(t *testing.T) {
	ledger, source, _ := newTestLedger(true)
	source.err = errors.New("db down")

	_, err := ledger.Reserve(context.Background(), "T1", span(960, 1020))
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInternal.Code))

	source.err = nil
	_, err = ledger.Reserve(context.Background(), "T1", span(960, 1020))
	assert.NoError(t, err)
}

func TestLedgerPruneDropsBoundPastClaims(t *testing.T) {
	ledger, _, _ := newTestLedger(false)
	ctx := context.Background()

	bound, err := ledger.Reserve(ctx, "T1", span(960, 1020))
	require.NoError(t, err)
	require.NoError(t, ledger.Bind(bound, "b-1"))
	_, err = ledger.Reserve(ctx, "T1", span(1080, 1140))
	require.NoError(t, err)
	future := models.Interval{Date: monday.AddDays(7), StartMinute: 960, EndMinute: 1020}
	futureToken, err := ledger.Reserve(ctx, "T1", future)
	require.NoError(t, err)
	require.NoError(t, ledger.Bind(futureToken, "b-2"))

	assert.Equal(t, 1, ledger.Prune(monday.AddDays(1)))

	claims, err := ledger.Claims(ctx, "T1", monday, monday.AddDays(7))
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(1080, 1140), future}, claims)
}

func TestLedgerVersionMovesWithFreeTime(t *testing.T) {
	ledger, _, _ := newTestLedger(true)
	ctx := context.Background()

	free, version, err := ledger.VersionedFreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, []models.Interval{span(960, 1200)}, free)
	assert.Equal(t, version, ledger.Version("T1"))

	_, again, err := ledger.VersionedFreeSlots(ctx, "T1", monday, monday)
	require.NoError(t, err)
	assert.Equal(t, version, again, "reads leave the version alone")

	steps := []struct {
		name string
		run  func()
	}{
		{"reserve", func() {
			_, err := ledger.Reserve(ctx, "T1", span(960, 1020))
			require.NoError(t, err)
		}},
		{"release", func() { ledger.Release(ctx, "T1", span(960, 1020)) }},
		{"block", func() {
			require.NoError(t, ledger.Block(ctx, models.BlockedInterval{ID: "blk-1", TeacherID: "T1", Interval: span(1100, 1160)}))
		}},
		{"unblock", func() { ledger.Unblock("T1", "blk-1") }},
		{"schedule", func() { ledger.SetSchedule("T1", []models.WeeklyAvailability{weekly(models.Monday, 540, 600)}) }},
		{"invalidate", func() { ledger.Invalidate("T1") }},
	}
	for _, step := range steps {
		before := ledger.Version("T1")
		step.run()
		assert.Greater(t, ledger.Version("T1"), before, step.name)
	}
}
