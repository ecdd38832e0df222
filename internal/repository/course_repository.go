package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sotakn/campus-timetable-api/internal/models"
)

// CourseRepository handles persistence for registered courses.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository instantiates a course repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseColumns = `id, user_id, name, fiscal_year, calendar_id, term_ids, weekly_slots,
special_option, is_on_demand, max_absence_days, attendance_locked, created_at, updated_at`

// Create inserts a new course.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	const query = `
INSERT INTO courses (id, user_id, name, fiscal_year, calendar_id, term_ids, weekly_slots,
	special_option, is_on_demand, max_absence_days, attendance_locked, created_at, updated_at)
VALUES (:id, :user_id, :name, :fiscal_year, :calendar_id, :term_ids, :weekly_slots,
	:special_option, :is_on_demand, :max_absence_days, :attendance_locked, :created_at, :updated_at)`

	if _, err := r.db.NamedExecContext(ctx, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// CreateTx inserts a new course inside a caller-owned transaction.
func (r *CourseRepository) CreateTx(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt = now
	course.UpdatedAt = now

	const query = `
INSERT INTO courses (id, user_id, name, fiscal_year, calendar_id, term_ids, weekly_slots,
	special_option, is_on_demand, max_absence_days, attendance_locked, created_at, updated_at)
VALUES (:id, :user_id, :name, :fiscal_year, :calendar_id, :term_ids, :weekly_slots,
	:special_option, :is_on_demand, :max_absence_days, :attendance_locked, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, exec, query, course); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// FindByID loads a course by identifier.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE id = $1`, courseColumns)
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListByUser returns a user's courses for a fiscal year, newest first.
func (r *CourseRepository) ListByUser(ctx context.Context, userID string, fiscalYear int) ([]models.Course, error) {
	query := fmt.Sprintf(`SELECT %s FROM courses WHERE user_id = $1`, courseColumns)
	args := []interface{}{userID}
	if fiscalYear > 0 {
		query += ` AND fiscal_year = $2`
		args = append(args, fiscalYear)
	}
	query += ` ORDER BY created_at DESC`

	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	return courses, nil
}

// Update persists course metadata (name, absence threshold, delivery mode).
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE courses SET name = :name, max_absence_days = :max_absence_days, is_on_demand = :is_on_demand,
	updated_at = :updated_at
WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, course)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	return requireRowAffected(result, "course")
}

// UpdateScheduleTx persists the scheduling configuration inside a
// caller-owned transaction so the config and its reconciled class dates
// commit together.
func (r *CourseRepository) UpdateScheduleTx(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error {
	course.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE courses SET term_ids = :term_ids, weekly_slots = :weekly_slots, special_option = :special_option,
	is_on_demand = :is_on_demand, max_absence_days = :max_absence_days, updated_at = :updated_at
WHERE id = :id`
	result, err := sqlx.NamedExecContext(ctx, exec, query, course)
	if err != nil {
		return fmt.Errorf("update course schedule: %w", err)
	}
	return requireRowAffected(result, "course")
}

// SetAttendanceLocked flips the one-way attendance lock flag.
func (r *CourseRepository) SetAttendanceLocked(ctx context.Context, id string, locked bool) error {
	const query = `UPDATE courses SET attendance_locked = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, locked, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set attendance lock: %w", err)
	}
	return requireRowAffected(result, "course")
}

// Delete removes a course; class dates cascade at the schema level.
func (r *CourseRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM courses WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	return requireRowAffected(result, "course")
}
