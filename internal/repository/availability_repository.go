package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/tutor-booking-api/internal/models"
)

// AvailabilityRepository persists weekly availability declarations and teacher blocks.
type AvailabilityRepository struct {
	db *sqlx.DB
}

// NewAvailabilityRepository constructs the repository.
func NewAvailabilityRepository(db *sqlx.DB) *AvailabilityRepository {
	return &AvailabilityRepository{db: db}
}

// ListByTeacher returns the declared weekly availability of a teacher.
func (r *AvailabilityRepository) ListByTeacher(ctx context.Context, teacherID string) ([]models.WeeklyAvailability, error) {
	const query = `SELECT id, teacher_id, day_of_week, start_minute, end_minute, effective_from, effective_until, created_at, updated_at FROM weekly_availabilities WHERE teacher_id = $1 ORDER BY day_of_week ASC, start_minute ASC`
	var items []models.WeeklyAvailability
	if err := r.db.SelectContext(ctx, &items, query, teacherID); err != nil {
		return nil, fmt.Errorf("list weekly availability: %w", err)
	}
	return items, nil
}

// ReplaceForTeacher swaps the teacher's declarations for entries within a transaction.
func (r *AvailabilityRepository) ReplaceForTeacher(ctx context.Context, teacherID string, entries []models.WeeklyAvailability) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace weekly availability: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM weekly_availabilities WHERE teacher_id = $1`, teacherID); err != nil {
		return fmt.Errorf("clear weekly availability: %w", err)
	}

	now := time.Now().UTC()
	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		entry.TeacherID = teacherID
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		entry.UpdatedAt = now
		if _, err = sqlx.NamedExecContext(ctx, tx, `INSERT INTO weekly_availabilities (id, teacher_id, day_of_week, start_minute, end_minute, effective_from, effective_until, created_at, updated_at) VALUES (:id, :teacher_id, :day_of_week, :start_minute, :end_minute, :effective_from, :effective_until, :created_at, :updated_at)`, entry); err != nil {
			return fmt.Errorf("insert weekly availability: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace weekly availability: %w", err)
	}
	return nil
}

// ListBlocksByTeacher returns the teacher's one-off blocks.
func (r *AvailabilityRepository) ListBlocksByTeacher(ctx context.Context, teacherID string) ([]models.BlockedInterval, error) {
	const query = `SELECT id, teacher_id, date, start_minute, end_minute, reason, created_at FROM teacher_blocks WHERE teacher_id = $1 ORDER BY date ASC, start_minute ASC`
	var items []models.BlockedInterval
	if err := r.db.SelectContext(ctx, &items, query, teacherID); err != nil {
		return nil, fmt.Errorf("list teacher blocks: %w", err)
	}
	return items, nil
}

// CreateBlock stores a teacher block.
func (r *AvailabilityRepository) CreateBlock(ctx context.Context, block *models.BlockedInterval) error {
	if block.ID == "" {
		block.ID = uuid.NewString()
	}
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO teacher_blocks (id, teacher_id, date, start_minute, end_minute, reason, created_at) VALUES (:id, :teacher_id, :date, :start_minute, :end_minute, :reason, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, block); err != nil {
		return fmt.Errorf("create teacher block: %w", err)
	}
	return nil
}

// DeleteBlock removes a teacher block, reporting whether a row was deleted.
func (r *AvailabilityRepository) DeleteBlock(ctx context.Context, teacherID, blockID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM teacher_blocks WHERE id = $1 AND teacher_id = $2`, blockID, teacherID)
	if err != nil {
		return false, fmt.Errorf("delete teacher block: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete teacher block rows: %w", err)
	}
	return affected > 0, nil
}
