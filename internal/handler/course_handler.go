package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sotakn/campus-timetable-api/internal/dto"
	"github.com/sotakn/campus-timetable-api/internal/middleware"
	"github.com/sotakn/campus-timetable-api/internal/service"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
	"github.com/sotakn/campus-timetable-api/pkg/response"
)

// CourseHandler exposes course and schedule endpoints.
type CourseHandler struct {
	timetable  *service.TimetableService
	attendance *service.AttendanceService
	exports    *service.ExportService
}

// NewCourseHandler constructs the handler.
func NewCourseHandler(timetable *service.TimetableService, attendance *service.AttendanceService, exports *service.ExportService) *CourseHandler {
	return &CourseHandler{timetable: timetable, attendance: attendance, exports: exports}
}

// Create godoc
// @Summary Register a course
// @Description Creates a course; scheduled courses get their class dates generated from the academic calendar in the same transaction.
// @Tags Courses
// @Accept json
// @Produce json
// @Param payload body dto.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /courses [post]
func (h *CourseHandler) Create(c *gin.Context) {
	var req dto.CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}
	course, err := h.timetable.CreateCourse(c.Request.Context(), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// List godoc
// @Summary List the user's courses
// @Tags Courses
// @Produce json
// @Param fiscalYear query int false "Restrict to a fiscal year"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses [get]
func (h *CourseHandler) List(c *gin.Context) {
	fiscalYear := 0
	if raw := c.Query("fiscalYear"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "fiscalYear must be an integer"))
			return
		}
		fiscalYear = parsed
	}
	courses, err := h.timetable.ListCourses(c.Request.Context(), middleware.CurrentUserID(c), fiscalYear)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}

// Get godoc
// @Summary Get one course
// @Tags Courses
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id} [get]
func (h *CourseHandler) Get(c *gin.Context) {
	course, err := h.timetable.GetCourse(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Update godoc
// @Summary Update course metadata
// @Description Renames a course or adjusts its absence budget. Toggling on-demand counts as a schedule edit and is rejected while attendance is locked.
// @Tags Courses
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.UpdateCourseRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id} [put]
func (h *CourseHandler) Update(c *gin.Context) {
	var req dto.UpdateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid course payload"))
		return
	}
	course, err := h.timetable.UpdateCourse(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// Delete godoc
// @Summary Delete a course and its class dates
// @Tags Courses
// @Param id path string true "Course ID"
// @Success 204
// @Security BearerAuth
// @Router /courses/{id} [delete]
func (h *CourseHandler) Delete(c *gin.Context) {
	if err := h.timetable.DeleteCourse(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// PreviewSchedule godoc
// @Summary Preview the class dates a schedule selection would generate
// @Description Generates dates without persisting and returns a proposal ID for the apply step.
// @Tags Schedule
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.PreviewScheduleRequest true "Schedule selection"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/schedule/preview [post]
func (h *CourseHandler) PreviewSchedule(c *gin.Context) {
	var req dto.PreviewScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid schedule payload"))
		return
	}
	preview, err := h.timetable.PreviewSchedule(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// ApplySchedule godoc
// @Summary Apply a previewed schedule proposal
// @Description Reconciles the proposal against existing class dates, preserving user-modified rows. Rejected with 409 when attendance is recorded or the proposal no longer matches the selection.
// @Tags Schedule
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body dto.ApplyScheduleRequest true "Apply payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/schedule/apply [post]
func (h *CourseHandler) ApplySchedule(c *gin.Context) {
	var req dto.ApplyScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid apply payload"))
		return
	}
	result, err := h.timetable.ApplySchedule(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Unlock godoc
// @Summary Clear the attendance lock on a course
// @Description Explicitly re-enables schedule edits after attendance was recorded. Recorded statuses are kept.
// @Tags Schedule
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/schedule/unlock [post]
func (h *CourseHandler) Unlock(c *gin.Context) {
	course, err := h.timetable.Unlock(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// ClassDates godoc
// @Summary List a course's class dates
// @Tags Schedule
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/class-dates [get]
func (h *CourseHandler) ClassDates(c *gin.Context) {
	rows, err := h.timetable.ListClassDates(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// AttendanceSummary godoc
// @Summary Get the course attendance summary
// @Description Returns per-status counts plus the remaining-absence message when a limit is configured.
// @Tags Attendance
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /courses/{id}/attendance/summary [get]
func (h *CourseHandler) AttendanceSummary(c *gin.Context) {
	report, err := h.attendance.Summary(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Download the course attendance sheet
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Course ID"
// @Param format query string true "Export format" Enums(csv, pdf)
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /courses/{id}/attendance/export [get]
func (h *CourseHandler) Export(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	result, err := h.exports.AttendanceSheet(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	c.Data(http.StatusOK, result.ContentType, result.Payload)
}
