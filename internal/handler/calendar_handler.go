package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sotakn/campus-timetable-api/internal/models"
	"github.com/sotakn/campus-timetable-api/internal/service"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
	"github.com/sotakn/campus-timetable-api/pkg/response"
)

type termLister interface {
	SelectableTerms(ctx context.Context, fiscalYear int, calendarID string) ([]models.Term, error)
}

// CalendarHandler exposes read-only academic calendar endpoints.
type CalendarHandler struct {
	calendar termLister
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(calendar *service.CalendarService) *CalendarHandler {
	return &CalendarHandler{calendar: calendar}
}

// Terms godoc
// @Summary List selectable terms for a calendar
// @Description Returns the instructional terms of the published calendar for a fiscal year. Break periods are excluded.
// @Tags Calendar
// @Produce json
// @Param fiscalYear query int true "Fiscal year"
// @Param calendarId query string true "Calendar ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /calendar/terms [get]
func (h *CalendarHandler) Terms(c *gin.Context) {
	fiscalYear, err := strconv.Atoi(c.Query("fiscalYear"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "fiscalYear must be an integer"))
		return
	}
	terms, err := h.calendar.SelectableTerms(c.Request.Context(), fiscalYear, c.Query("calendarId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, terms, nil)
}
