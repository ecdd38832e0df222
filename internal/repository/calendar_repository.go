package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sotakn/campus-timetable-api/internal/models"
)

// CalendarRepository reads the published academic calendar (terms and
// classified days). The data is write-once per fiscal year and owned by an
// upstream import pipeline; this repository is read-only.
type CalendarRepository struct {
	db *sqlx.DB
}

// NewCalendarRepository instantiates a calendar repository.
func NewCalendarRepository(db *sqlx.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ListTerms returns the terms of a calendar in calendar order.
func (r *CalendarRepository) ListTerms(ctx context.Context, fiscalYear int, calendarID string) ([]models.Term, error) {
	const query = `SELECT id, calendar_id, fiscal_year, name, classification, position
FROM academic_terms WHERE fiscal_year = $1 AND calendar_id = $2 ORDER BY position ASC`
	var terms []models.Term
	if err := r.db.SelectContext(ctx, &terms, query, fiscalYear, calendarID); err != nil {
		return nil, fmt.Errorf("list terms: %w", err)
	}
	return terms, nil
}

// ListDays returns every classified day of a calendar in chronological order.
func (r *CalendarRepository) ListDays(ctx context.Context, fiscalYear int, calendarID string) ([]models.CalendarDay, error) {
	const query = `SELECT id, calendar_id, fiscal_year, term_id, to_char(day_date, 'YYYY-MM-DD') AS day_date,
day_of_week, is_instructional, week_of_term
FROM academic_calendar_days WHERE fiscal_year = $1 AND calendar_id = $2 ORDER BY day_date ASC`
	var days []models.CalendarDay
	if err := r.db.SelectContext(ctx, &days, query, fiscalYear, calendarID); err != nil {
		return nil, fmt.Errorf("list calendar days: %w", err)
	}
	return days, nil
}
