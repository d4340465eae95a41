package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutor-booking-api/internal/models"
)

var bookingRowColumns = []string{"id", "series_id", "student_id", "teacher_id", "subject", "date", "start_minute", "end_minute", "status", "class_type", "cancel_reason", "cancelled_at", "created_at", "updated_at"}

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func bookingRow(rows *sqlmock.Rows, id, status string) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, nil, "S1", "T1", "MATH", "2025-03-03", 960, 1020, status, "ONE_TIME", nil, nil, now, now)
}

func TestBookingRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	from := models.NewDate(2025, time.March, 1)
	rows := bookingRow(sqlmock.NewRows(bookingRowColumns), "b-1", "CONFIRMED")
	listQuery := "SELECT " + bookingColumns + " FROM bookings WHERE 1=1 AND teacher_id = $1 AND status = $2 AND date >= $3 ORDER BY date DESC, start_minute DESC LIMIT 10 OFFSET 10"
	mock.ExpectQuery(regexp.QuoteMeta(listQuery)).
		WithArgs("T1", "CONFIRMED", "2025-03-01").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM bookings WHERE 1=1 AND teacher_id = $1 AND status = $2 AND date >= $3")).
		WithArgs("T1", "CONFIRMED", "2025-03-01").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))

	list, total, err := repo.List(context.Background(), models.BookingFilter{
		TeacherID: "T1",
		Status:    models.BookingStatusConfirmed,
		From:      &from,
		Page:      2,
		PageSize:  10,
		SortOrder: "desc",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 11, total)
	assert.Equal(t, models.Interval{Date: models.NewDate(2025, time.March, 3), StartMinute: 960, EndMinute: 1020}, list[0].Interval)
	assert.Equal(t, models.BookingStatusConfirmed, list[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryFindByIDNotFound(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	findQuery := "SELECT " + bookingColumns + " FROM bookings WHERE id = $1"
	mock.ExpectQuery(regexp.QuoteMeta(findQuery)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryListActiveByTeacher(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	rows := sqlmock.NewRows(bookingRowColumns)
	bookingRow(rows, "b-1", "PENDING")
	bookingRow(rows, "b-2", "CONFIRMED")
	mock.ExpectQuery(regexp.QuoteMeta("FROM bookings WHERE teacher_id = $1 AND status IN ('PENDING', 'CONFIRMED') ORDER BY date ASC, start_minute ASC")).
		WithArgs("T1").
		WillReturnRows(rows)

	list, err := repo.ListActiveByTeacher(context.Background(), "T1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryListConfirmedThrough(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = 'CONFIRMED' AND date <= $1 ORDER BY date ASC, end_minute ASC LIMIT 100")).
		WithArgs("2025-03-03").
		WillReturnRows(bookingRow(sqlmock.NewRows(bookingRowColumns), "b-1", "CONFIRMED"))

	list, err := repo.ListConfirmedThrough(context.Background(), models.NewDate(2025, time.March, 3), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateAssignsID(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	mock.ExpectExec("INSERT INTO bookings").
		WithArgs(sqlmock.AnyArg(), nil, "S1", "T1", "MATH", "2025-03-03", 960, 1020, "CONFIRMED", "ONE_TIME", nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	booking := &models.Booking{
		StudentID: "S1",
		TeacherID: "T1",
		Subject:   "MATH",
		Interval:  models.Interval{Date: models.NewDate(2025, time.March, 3), StartMinute: 960, EndMinute: 1020},
		Status:    models.BookingStatusConfirmed,
		ClassType: models.ClassTypeOneTime,
	}
	require.NoError(t, repo.Create(context.Background(), booking))
	assert.NotEmpty(t, booking.ID)
	assert.False(t, booking.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateSeriesRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	series := "series-1"
	bookings := []models.Booking{
		{ID: "b-1", SeriesID: &series, StudentID: "S1", TeacherID: "T1", Subject: "MATH", Status: models.BookingStatusConfirmed, ClassType: models.ClassTypeRecurring,
			Interval: models.Interval{Date: models.NewDate(2025, time.March, 3), StartMinute: 960, EndMinute: 1020}},
		{ID: "b-2", SeriesID: &series, StudentID: "S1", TeacherID: "T1", Subject: "MATH", Status: models.BookingStatusConfirmed, ClassType: models.ClassTypeRecurring,
			Interval: models.Interval{Date: models.NewDate(2025, time.March, 10), StartMinute: 960, EndMinute: 1020}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO bookings").WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := repo.CreateSeries(context.Background(), bookings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert series booking")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryCreateSeriesCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	bookings := []models.Booking{
		{ID: "b-1", StudentID: "S1", TeacherID: "T1", Subject: "MATH", Status: models.BookingStatusPending, ClassType: models.ClassTypeRecurring,
			Interval: models.Interval{Date: models.NewDate(2025, time.March, 3), StartMinute: 960, EndMinute: 1020}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO bookings").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateSeries(context.Background(), bookings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBookingRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewBookingRepository(db)

	reason := "sick"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE bookings SET date = ")).
		WithArgs("2025-03-03", 960, 1020, "CANCELLED", reason, sqlmock.AnyArg(), sqlmock.AnyArg(), "b-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	now := time.Now()
	err := repo.Update(context.Background(), &models.Booking{
		ID:           "b-1",
		Interval:     models.Interval{Date: models.NewDate(2025, time.March, 3), StartMinute: 960, EndMinute: 1020},
		Status:       models.BookingStatusCancelled,
		CancelReason: &reason,
		CancelledAt:  &now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
