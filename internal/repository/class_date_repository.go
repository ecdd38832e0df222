package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sotakn/campus-timetable-api/internal/models"
)

// ClassDateRepository manages persisted course occurrences.
type ClassDateRepository struct {
	db *sqlx.DB
}

// NewClassDateRepository instantiates a class date repository.
func NewClassDateRepository(db *sqlx.DB) *ClassDateRepository {
	return &ClassDateRepository{db: db}
}

const classDateColumns = `id, course_id, to_char(class_date, 'YYYY-MM-DD') AS class_date, periods,
attendance_status, delivery_type, is_test, is_cancelled, is_excluded_from_summary,
has_user_modifications, created_at, updated_at`

// ListByCourse returns a course's class dates in chronological order.
func (r *ClassDateRepository) ListByCourse(ctx context.Context, courseID string) ([]models.ClassDate, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_dates WHERE course_id = $1 ORDER BY class_date ASC`, classDateColumns)
	var rows []models.ClassDate
	if err := r.db.SelectContext(ctx, &rows, query, courseID); err != nil {
		return nil, fmt.Errorf("list class dates: %w", err)
	}
	return rows, nil
}

// FindByID loads a class date by identifier.
func (r *ClassDateRepository) FindByID(ctx context.Context, id string) (*models.ClassDate, error) {
	query := fmt.Sprintf(`SELECT %s FROM class_dates WHERE id = $1`, classDateColumns)
	var row models.ClassDate
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return &row, nil
}

// Update persists a mutated class date row.
func (r *ClassDateRepository) Update(ctx context.Context, row *models.ClassDate) error {
	row.UpdatedAt = time.Now().UTC()
	const query = `
UPDATE class_dates SET class_date = :class_date, periods = :periods, attendance_status = :attendance_status,
	delivery_type = :delivery_type, is_test = :is_test, is_cancelled = :is_cancelled,
	is_excluded_from_summary = :is_excluded_from_summary, has_user_modifications = :has_user_modifications,
	updated_at = :updated_at
WHERE id = :id`
	result, err := r.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("update class date: %w", err)
	}
	return requireRowAffected(result, "class date")
}

// HasAttendance reports whether any class date of the course carries a
// recorded status. Used to re-validate the schedule lock at save time.
func (r *ClassDateRepository) HasAttendance(ctx context.Context, courseID string) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM class_dates WHERE course_id = $1 AND attendance_status IS NOT NULL)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, courseID); err != nil {
		return false, fmt.Errorf("check attendance: %w", err)
	}
	return exists, nil
}

// BulkInsertTx inserts generated class dates inside a caller-owned
// transaction so a partial schedule is never persisted.
func (r *ClassDateRepository) BulkInsertTx(ctx context.Context, exec sqlx.ExtContext, rows []models.ClassDate) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now().UTC()

	const query = `
INSERT INTO class_dates (id, course_id, class_date, periods, attendance_status, delivery_type,
	is_test, is_cancelled, is_excluded_from_summary, has_user_modifications, created_at, updated_at)
VALUES (:id, :course_id, :class_date, :periods, :attendance_status, :delivery_type,
	:is_test, :is_cancelled, :is_excluded_from_summary, :has_user_modifications, :created_at, :updated_at)`

	for i := range rows {
		row := &rows[i]
		if row.ID == "" {
			row.ID = uuid.NewString()
		}
		if row.DeliveryType == "" {
			row.DeliveryType = models.DeliveryTypeUnknown
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
		row.UpdatedAt = now
		if _, err := sqlx.NamedExecContext(ctx, exec, query, row); err != nil {
			return fmt.Errorf("insert class date: %w", err)
		}
	}
	return nil
}

// UpdatePeriodsTx refreshes the period set of an unmodified row during
// reconciliation.
func (r *ClassDateRepository) UpdatePeriodsTx(ctx context.Context, exec sqlx.ExtContext, id string, periods models.PeriodList) error {
	const query = `UPDATE class_dates SET periods = $1, updated_at = $2 WHERE id = $3`
	if _, err := exec.ExecContext(ctx, query, periods, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("update class date periods: %w", err)
	}
	return nil
}

// DeleteTx removes class dates dropped by reconciliation.
func (r *ClassDateRepository) DeleteTx(ctx context.Context, exec sqlx.ExtContext, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `DELETE FROM class_dates WHERE id = ANY($1)`
	if _, err := exec.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("delete class dates: %w", err)
	}
	return nil
}
