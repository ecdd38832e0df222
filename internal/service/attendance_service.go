package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/sotakn/campus-timetable-api/internal/models"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
)

// ComputeAttendanceSummary aggregates class dates into status buckets.
// Cancelled and excluded rows contribute to no count. Rows with no recorded
// status count as unrecorded only once their date is on or before todayID;
// future unset dates still count toward the total but are not yet due.
// The function is pure and idempotent.
func ComputeAttendanceSummary(records []models.ClassDate, todayID string, maxAbsenceDays *int) models.AttendanceSummary {
	summary := models.AttendanceSummary{MaxAbsenceDays: maxAbsenceDays}
	for _, record := range records {
		if !record.CountsTowardSummary() {
			continue
		}
		summary.TotalCount++
		if record.AttendanceStatus == nil {
			if record.Date <= todayID {
				summary.UnrecordedCount++
			}
			continue
		}
		switch *record.AttendanceStatus {
		case models.AttendanceStatusPresent:
			summary.PresentCount++
		case models.AttendanceStatusLate:
			summary.LateCount++
		case models.AttendanceStatusAbsent:
			summary.AbsentCount++
		default:
			// Corrupt status values are treated as unrecorded when due.
			if record.Date <= todayID {
				summary.UnrecordedCount++
			}
		}
	}
	return summary
}

// BuildAbsenceMessage derives the remaining-absence notice from a summary.
// It returns nil when no absence limit is configured.
func BuildAbsenceMessage(summary models.AttendanceSummary) *models.AbsenceMessage {
	if summary.MaxAbsenceDays == nil {
		return nil
	}
	limit := *summary.MaxAbsenceDays
	if limit <= 0 {
		return &models.AbsenceMessage{Text: "No absence allowance is configured for this course."}
	}
	remaining := limit - summary.AbsentCount
	switch {
	case remaining > 1:
		return &models.AbsenceMessage{Text: fmt.Sprintf("You can be absent %d more days.", remaining)}
	case remaining == 1:
		return &models.AbsenceMessage{Text: "You can be absent 1 more day."}
	case remaining == 0:
		return &models.AbsenceMessage{Text: "You have no absences remaining.", Emphasized: true}
	default:
		over := -remaining
		if over == 1 {
			return &models.AbsenceMessage{Text: "You have exceeded the absence limit by 1 day.", Emphasized: true}
		}
		return &models.AbsenceMessage{Text: fmt.Sprintf("You have exceeded the absence limit by %d days.", over), Emphasized: true}
	}
}

type classDateRepository interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.ClassDate, error)
	FindByID(ctx context.Context, id string) (*models.ClassDate, error)
	Update(ctx context.Context, row *models.ClassDate) error
}

type attendanceCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
	SetAttendanceLocked(ctx context.Context, id string, locked bool) error
}

// AttendanceService records attendance on class dates and derives summaries.
type AttendanceService struct {
	classDates classDateRepository
	courses    attendanceCourseReader
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(classDates classDateRepository, courses attendanceCourseReader, validate *validator.Validate, logger *zap.Logger) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AttendanceService{
		classDates: classDates,
		courses:    courses,
		validator:  validate,
		logger:     logger,
		now:        time.Now,
	}
	registerAttendanceStatusValidation(svc.validator)
	return svc
}

func registerAttendanceStatusValidation(v *validator.Validate) {
	_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	_ = v.RegisterValidation("delivery_type", func(fl validator.FieldLevel) bool {
		return models.DeliveryType(strings.ToUpper(fl.Field().String())).Valid()
	})
}

// MarkAttendanceRequest sets or clears the status of one class date.
type MarkAttendanceRequest struct {
	Status *string `json:"status" validate:"omitempty,attendance_status"`
}

// Mark records attendance for a single class date. Setting a non-null status
// locks the course schedule; clearing a status never unlocks it.
func (s *AttendanceService) Mark(ctx context.Context, classDateID, userID string, req MarkAttendanceRequest) (*models.ClassDate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}

	row, course, err := s.loadOwnedClassDate(ctx, classDateID, userID)
	if err != nil {
		return nil, err
	}

	if req.Status == nil {
		row.AttendanceStatus = nil
	} else {
		status := models.AttendanceStatus(strings.ToUpper(*req.Status))
		row.AttendanceStatus = &status
	}
	row.HasUserModifications = true

	if err := s.classDates.Update(ctx, row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	// One-way transition: the first recorded status locks schedule edits.
	if row.AttendanceStatus != nil && !course.AttendanceLocked {
		if err := s.courses.SetAttendanceLocked(ctx, course.ID, true); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock schedule")
		}
	}

	return row, nil
}

// UpdateClassDateRequest adjusts a single class date (reschedule, cancel,
// exclude, delivery type, test flag).
type UpdateClassDateRequest struct {
	Date                  *string `json:"date"`
	Periods               *[]int  `json:"periods"`
	DeliveryType          *string `json:"delivery_type" validate:"omitempty,delivery_type"`
	IsTest                *bool   `json:"is_test"`
	IsCancelled           *bool   `json:"is_cancelled"`
	IsExcludedFromSummary *bool   `json:"is_excluded_from_summary"`
}

// UpdateClassDate applies manual adjustments to one class date and marks it
// user-modified so regeneration preserves it.
func (s *AttendanceService) UpdateClassDate(ctx context.Context, classDateID, userID string, req UpdateClassDateRequest) (*models.ClassDate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid class date payload")
	}

	row, _, err := s.loadOwnedClassDate(ctx, classDateID, userID)
	if err != nil {
		return nil, err
	}

	if req.Date != nil {
		if _, err := time.Parse(models.DateLayout, *req.Date); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
		}
		row.Date = *req.Date
	}
	if req.Periods != nil {
		periods := make([]int, 0, len(*req.Periods))
		for _, p := range *req.Periods {
			if p < 0 || p > models.MaxPeriod {
				return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("period %d out of range", p))
			}
			periods = append(periods, p)
		}
		if len(periods) == 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "periods must not be empty")
		}
		models.SortPeriods(periods)
		row.Periods = periods
	}
	if req.DeliveryType != nil {
		row.DeliveryType = models.DeliveryType(strings.ToUpper(*req.DeliveryType))
	}
	if req.IsTest != nil {
		row.IsTest = *req.IsTest
	}
	if req.IsCancelled != nil {
		row.IsCancelled = *req.IsCancelled
	}
	if req.IsExcludedFromSummary != nil {
		row.IsExcludedFromSummary = *req.IsExcludedFromSummary
	}
	row.HasUserModifications = true

	if err := s.classDates.Update(ctx, row); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class date")
	}
	return row, nil
}

// CourseAttendanceReport bundles the derived summary with its message.
type CourseAttendanceReport struct {
	Summary models.AttendanceSummary `json:"summary"`
	Message *models.AbsenceMessage   `json:"message,omitempty"`
}

// Summary recomputes the attendance summary for a course from its current
// class dates.
func (s *AttendanceService) Summary(ctx context.Context, courseID, userID string) (*CourseAttendanceReport, error) {
	course, err := s.loadOwnedCourse(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}
	records, err := s.classDates.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class dates")
	}
	todayID := s.now().Format(models.DateLayout)
	summary := ComputeAttendanceSummary(records, todayID, course.MaxAbsenceDays)
	return &CourseAttendanceReport{Summary: summary, Message: BuildAbsenceMessage(summary)}, nil
}

func (s *AttendanceService) loadOwnedCourse(ctx context.Context, courseID, userID string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course")
	}
	if course.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another user")
	}
	return course, nil
}

func (s *AttendanceService) loadOwnedClassDate(ctx context.Context, classDateID, userID string) (*models.ClassDate, *models.Course, error) {
	row, err := s.classDates.FindByID(ctx, classDateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "class date not found")
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class date")
	}
	course, err := s.loadOwnedCourse(ctx, row.CourseID, userID)
	if err != nil {
		return nil, nil, err
	}
	return row, course, nil
}
