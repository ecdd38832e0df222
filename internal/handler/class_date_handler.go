package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sotakn/campus-timetable-api/internal/middleware"
	"github.com/sotakn/campus-timetable-api/internal/service"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
	"github.com/sotakn/campus-timetable-api/pkg/response"
)

// ClassDateHandler exposes per-occurrence endpoints.
type ClassDateHandler struct {
	attendance *service.AttendanceService
}

// NewClassDateHandler constructs the handler.
func NewClassDateHandler(attendance *service.AttendanceService) *ClassDateHandler {
	return &ClassDateHandler{attendance: attendance}
}

// MarkAttendance godoc
// @Summary Record attendance for a class date
// @Description Sets or clears the status of one occurrence. The first recorded status locks the course schedule against regeneration.
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Class date ID"
// @Param payload body service.MarkAttendanceRequest true "Attendance payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /class-dates/{id}/attendance [put]
func (h *ClassDateHandler) MarkAttendance(c *gin.Context) {
	var req service.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid attendance payload"))
		return
	}
	row, err := h.attendance.Mark(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

// Update godoc
// @Summary Adjust a single class date
// @Description Reschedules, cancels, excludes or retags one occurrence. Adjusted rows are preserved across schedule regeneration.
// @Tags Schedule
// @Accept json
// @Produce json
// @Param id path string true "Class date ID"
// @Param payload body service.UpdateClassDateRequest true "Class date payload"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /class-dates/{id} [put]
func (h *ClassDateHandler) Update(c *gin.Context) {
	var req service.UpdateClassDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid class date payload"))
		return
	}
	row, err := h.attendance.UpdateClassDate(c.Request.Context(), c.Param("id"), middleware.CurrentUserID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}
