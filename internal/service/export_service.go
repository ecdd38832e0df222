package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sotakn/campus-timetable-api/internal/models"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
	"github.com/sotakn/campus-timetable-api/pkg/export"
)

// ExportFormat names a supported export encoding.
type ExportFormat string

// Supported export formats.
const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// Valid reports whether the format is supported.
func (f ExportFormat) Valid() bool {
	return f == ExportFormatCSV || f == ExportFormatPDF
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string, summaryLines []string) ([]byte, error)
}

type exportCourseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type exportClassDateReader interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.ClassDate, error)
}

// ExportResult carries rendered export bytes with download metadata.
type ExportResult struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ExportService renders a course's attendance sheet for download.
type ExportService struct {
	courses    exportCourseReader
	classDates exportClassDateReader
	csv        csvRenderer
	pdf        pdfRenderer
	logger     *zap.Logger
	now        func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(courses exportCourseReader, classDates exportClassDateReader, csv csvRenderer, pdf pdfRenderer, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		courses:    courses,
		classDates: classDates,
		csv:        csv,
		pdf:        pdf,
		logger:     logger,
		now:        time.Now,
	}
}

// AttendanceSheet renders one course's class dates and attendance summary in
// the requested format.
func (s *ExportService) AttendanceSheet(ctx context.Context, courseID, userID string, format ExportFormat) (*ExportResult, error) {
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "course not found")
	}
	if course.UserID != userID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "course belongs to another user")
	}

	records, err := s.classDates.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class dates")
	}

	dataset := buildAttendanceDataset(records)
	todayID := s.now().Format(models.DateLayout)
	summary := ComputeAttendanceSummary(records, todayID, course.MaxAbsenceDays)

	var payload []byte
	switch format {
	case ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, fmt.Sprintf("Attendance - %s", course.Name), summaryLines(summary))
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	result := &ExportResult{
		Filename: exportFilename(course.Name, s.now(), format),
		Payload:  payload,
	}
	if format == ExportFormatCSV {
		result.ContentType = "text/csv"
	} else {
		result.ContentType = "application/pdf"
	}
	return result, nil
}

func buildAttendanceDataset(records []models.ClassDate) export.Dataset {
	headers := []string{"Date", "Periods", "Status", "Delivery", "Test", "Cancelled", "Excluded"}
	rows := make([]map[string]string, 0, len(records))
	for _, record := range records {
		labels := make([]string, 0, len(record.Periods))
		for _, period := range record.Periods {
			labels = append(labels, models.PeriodLabel(period))
		}
		status := ""
		if record.AttendanceStatus != nil {
			status = string(*record.AttendanceStatus)
		}
		rows = append(rows, map[string]string{
			"Date":      record.Date,
			"Periods":   strings.Join(labels, " "),
			"Status":    status,
			"Delivery":  string(record.DeliveryType),
			"Test":      boolMark(record.IsTest),
			"Cancelled": boolMark(record.IsCancelled),
			"Excluded":  boolMark(record.IsExcludedFromSummary),
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func summaryLines(summary models.AttendanceSummary) []string {
	lines := []string{
		fmt.Sprintf("Present: %d  Late: %d  Absent: %d  Unrecorded: %d  Total: %d",
			summary.PresentCount, summary.LateCount, summary.AbsentCount,
			summary.UnrecordedCount, summary.TotalCount),
	}
	if message := BuildAbsenceMessage(summary); message != nil {
		lines = append(lines, message.Text)
	}
	return lines
}

func boolMark(v bool) string {
	if v {
		return "yes"
	}
	return ""
}

func exportFilename(courseName string, now time.Time, format ExportFormat) string {
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-")
	name := replacer.Replace(strings.TrimSpace(courseName))
	if name == "" {
		name = "course"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	stamp := now.UTC().Format("20060102")
	return name + "_attendance_" + stamp + "." + string(format)
}
