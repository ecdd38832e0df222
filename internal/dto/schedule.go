package dto

import (
	"time"

	"github.com/sotakn/campus-timetable-api/internal/models"
)

// ScheduleSelection is the user's scheduling configuration for a course:
// which terms it runs in, its weekly pattern, and the special-schedule
// filter.
type ScheduleSelection struct {
	TermIDs       []string            `json:"term_ids" validate:"omitempty,dive,required"`
	WeeklySlots   []models.WeeklySlot `json:"weekly_slots" validate:"omitempty,dive"`
	SpecialOption string              `json:"special_option" validate:"omitempty,special_schedule_option"`
}

// CreateCourseRequest registers a new course.
type CreateCourseRequest struct {
	Name           string `json:"name" validate:"required,max=120"`
	FiscalYear     int    `json:"fiscal_year" validate:"required,min=2000,max=2100"`
	CalendarID     string `json:"calendar_id" validate:"required"`
	IsOnDemand     bool   `json:"is_on_demand"`
	MaxAbsenceDays *int   `json:"max_absence_days" validate:"omitempty,min=0"`
	ScheduleSelection
}

// UpdateCourseRequest mutates course metadata. Switching the on-demand flag
// is a schedule edit and honours the attendance lock.
type UpdateCourseRequest struct {
	Name           *string `json:"name" validate:"omitempty,max=120"`
	MaxAbsenceDays *int    `json:"max_absence_days" validate:"omitempty,min=0"`
	IsOnDemand     *bool   `json:"is_on_demand"`
}

// PreviewScheduleRequest asks the generator for the concrete dates a
// selection would produce, without persisting anything.
type PreviewScheduleRequest struct {
	ScheduleSelection
}

// PreviewScheduleResponse carries the generated dates plus a proposal handle
// for the subsequent apply step.
type PreviewScheduleResponse struct {
	ProposalID            string                      `json:"proposal_id"`
	Dates                 []models.GeneratedClassDate `json:"dates"`
	RecommendedMaxAbsence int                         `json:"recommended_max_absence"`
	ExpiresAt             time.Time                   `json:"expires_at"`
}

// ApplyScheduleRequest commits a previously previewed proposal. The selection
// is re-sent so the server can detect a proposal that no longer matches the
// current form state.
type ApplyScheduleRequest struct {
	ProposalID     string `json:"proposal_id" validate:"required"`
	MaxAbsenceDays *int   `json:"max_absence_days" validate:"omitempty,min=0"`
	ScheduleSelection
}

// ApplyScheduleResponse reports the reconciliation outcome.
type ApplyScheduleResponse struct {
	Course  *models.Course `json:"course"`
	Created int            `json:"created"`
	Updated int            `json:"updated"`
	Deleted int            `json:"deleted"`
}
