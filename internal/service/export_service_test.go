package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sotakn/campus-timetable-api/internal/models"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
)

func newExportFixture() (*ExportService, *classDateRepoStub, *courseReaderStub) {
	present := models.AttendanceStatusPresent
	absent := models.AttendanceStatusAbsent
	classDates := &classDateRepoStub{rows: map[string]*models.ClassDate{
		"cd-1": {ID: "cd-1", CourseID: "course-1", Date: "2025-04-07", Periods: models.PeriodList{2}, AttendanceStatus: &present, DeliveryType: models.DeliveryTypeInPerson},
		"cd-2": {ID: "cd-2", CourseID: "course-1", Date: "2025-04-14", Periods: models.PeriodList{2, 0}, AttendanceStatus: &absent, DeliveryType: models.DeliveryTypeRemote, IsTest: true},
	}}
	courses := &courseReaderStub{courses: map[string]*models.Course{
		"course-1": {ID: "course-1", UserID: "user-1", Name: "Linear Algebra", MaxAbsenceDays: intPtr(3)},
	}}
	svc := NewExportService(courses, classDates, nil, nil, zap.NewNop())
	svc.now = func() time.Time {
		ts, _ := time.Parse(models.DateLayout, "2025-04-20")
		return ts
	}
	return svc, classDates, courses
}

func TestExportAttendanceSheetCSV(t *testing.T) {
	svc, _, _ := newExportFixture()

	result, err := svc.AttendanceSheet(context.Background(), "course-1", "user-1", ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "Linear_Algebra_attendance_20250420.csv", result.Filename)

	content := string(result.Payload)
	lines := strings.Split(strings.TrimSpace(content), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Date")
	assert.Contains(t, content, "2025-04-07")
	assert.Contains(t, content, "PRESENT")
	assert.Contains(t, content, "ABSENT")
}

func TestExportAttendanceSheetPDF(t *testing.T) {
	svc, _, _ := newExportFixture()

	result, err := svc.AttendanceSheet(context.Background(), "course-1", "user-1", ExportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, strings.HasPrefix(string(result.Payload), "%PDF"))
}

func TestExportAttendanceSheetRejectsUnknownFormat(t *testing.T) {
	svc, _, _ := newExportFixture()

	_, err := svc.AttendanceSheet(context.Background(), "course-1", "user-1", ExportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestExportAttendanceSheetOwnership(t *testing.T) {
	svc, _, _ := newExportFixture()

	_, err := svc.AttendanceSheet(context.Background(), "course-1", "user-2", ExportFormatCSV)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
