package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-booking-api/internal/models"
)

const bookingColumns = "id, series_id, student_id, teacher_id, subject, date, start_minute, end_minute, status, class_type, cancel_reason, cancelled_at, created_at, updated_at"

const insertBookingQuery = `INSERT INTO bookings (id, series_id, student_id, teacher_id, subject, date, start_minute, end_minute, status, class_type, cancel_reason, cancelled_at, created_at, updated_at) VALUES (:id, :series_id, :student_id, :teacher_id, :subject, :date, :start_minute, :end_minute, :status, :class_type, :cancel_reason, :cancelled_at, :created_at, :updated_at)`

// BookingRepository provides persistence for bookings.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new booking repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// List returns bookings with optional filtering and pagination.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, int, error) {
	base := "FROM bookings WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("date >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("date <= $%d", len(args)+1))
		args = append(args, *filter.To)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page, size := models.NormalizePage(filter.Page, filter.PageSize)
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY date %s, start_minute %s LIMIT %d OFFSET %d", bookingColumns, base, order, order, size, offset)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	return bookings, total, nil
}

// FindByID loads a booking by id.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.Booking, error) {
	query := fmt.Sprintf("SELECT %s FROM bookings WHERE id = $1", bookingColumns)
	var booking models.Booking
	if err := r.db.GetContext(ctx, &booking, query, id); err != nil {
		return nil, err
	}
	return &booking, nil
}

// ListActiveByTeacher returns the pending and confirmed bookings of a teacher.
func (r *BookingRepository) ListActiveByTeacher(ctx context.Context, teacherID string) ([]models.Booking, error) {
	query := fmt.Sprintf("SELECT %s FROM bookings WHERE teacher_id = $1 AND status IN ('PENDING', 'CONFIRMED') ORDER BY date ASC, start_minute ASC", bookingColumns)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, teacherID); err != nil {
		return nil, fmt.Errorf("list active bookings by teacher: %w", err)
	}
	return bookings, nil
}

// ListConfirmedThrough returns confirmed bookings dated on or before the given day.
func (r *BookingRepository) ListConfirmedThrough(ctx context.Context, date models.CalendarDate, limit int) ([]models.Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf("SELECT %s FROM bookings WHERE status = 'CONFIRMED' AND date <= $1 ORDER BY date ASC, end_minute ASC LIMIT %d", bookingColumns, limit)
	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, date); err != nil {
		return nil, fmt.Errorf("list confirmed bookings: %w", err)
	}
	return bookings, nil
}

// Create stores a new booking record.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	stampBooking(booking, time.Now().UTC())
	if _, err := r.db.NamedExecContext(ctx, insertBookingQuery, booking); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

// CreateSeries inserts every booking of a recurring series within a transaction.
func (r *BookingRepository) CreateSeries(ctx context.Context, bookings []models.Booking) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create booking series: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	for i := range bookings {
		stampBooking(&bookings[i], now)
		if _, err = sqlx.NamedExecContext(ctx, tx, insertBookingQuery, &bookings[i]); err != nil {
			return fmt.Errorf("insert series booking: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create booking series: %w", err)
	}
	return nil
}

// Update persists status, interval and cancellation fields.
func (r *BookingRepository) Update(ctx context.Context, booking *models.Booking) error {
	booking.UpdatedAt = time.Now().UTC()
	const query = `UPDATE bookings SET date = :date, start_minute = :start_minute, end_minute = :end_minute, status = :status, cancel_reason = :cancel_reason, cancelled_at = :cancelled_at, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, booking); err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	return nil
}

func stampBooking(booking *models.Booking, now time.Time) {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now
}
