package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sotakn/campus-timetable-api/internal/dto"
	"github.com/sotakn/campus-timetable-api/internal/models"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
)

// --- Fixtures ---

type courseRepoStub struct {
	courses map[string]*models.Course
	created []models.Course
}

func (s *courseRepoStub) Create(ctx context.Context, course *models.Course) error {
	s.store(course)
	return nil
}

func (s *courseRepoStub) CreateTx(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error {
	s.store(course)
	return nil
}

func (s *courseRepoStub) store(course *models.Course) {
	if s.courses == nil {
		s.courses = map[string]*models.Course{}
	}
	copied := *course
	s.courses[course.ID] = &copied
	s.created = append(s.created, copied)
}

func (s *courseRepoStub) FindByID(ctx context.Context, id string) (*models.Course, error) {
	course, ok := s.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *course
	return &copied, nil
}

func (s *courseRepoStub) ListByUser(ctx context.Context, userID string, fiscalYear int) ([]models.Course, error) {
	var result []models.Course
	for _, course := range s.courses {
		if course.UserID != userID {
			continue
		}
		if fiscalYear > 0 && course.FiscalYear != fiscalYear {
			continue
		}
		result = append(result, *course)
	}
	return result, nil
}

func (s *courseRepoStub) Update(ctx context.Context, course *models.Course) error {
	if _, ok := s.courses[course.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *course
	s.courses[course.ID] = &copied
	return nil
}

func (s *courseRepoStub) UpdateScheduleTx(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error {
	return s.Update(ctx, course)
}

func (s *courseRepoStub) SetAttendanceLocked(ctx context.Context, id string, locked bool) error {
	course, ok := s.courses[id]
	if !ok {
		return sql.ErrNoRows
	}
	course.AttendanceLocked = locked
	return nil
}

func (s *courseRepoStub) Delete(ctx context.Context, id string) error {
	if _, ok := s.courses[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.courses, id)
	return nil
}

type classDateStoreStub struct {
	rows          []models.ClassDate
	hasAttendance bool
	inserted      []models.ClassDate
	updatedIDs    []string
	deletedIDs    []string
}

func (s *classDateStoreStub) ListByCourse(ctx context.Context, courseID string) ([]models.ClassDate, error) {
	var result []models.ClassDate
	for _, row := range s.rows {
		if row.CourseID == courseID {
			result = append(result, row)
		}
	}
	return result, nil
}

func (s *classDateStoreStub) HasAttendance(ctx context.Context, courseID string) (bool, error) {
	return s.hasAttendance, nil
}

func (s *classDateStoreStub) BulkInsertTx(ctx context.Context, exec sqlx.ExtContext, rows []models.ClassDate) error {
	s.inserted = append(s.inserted, rows...)
	return nil
}

func (s *classDateStoreStub) UpdatePeriodsTx(ctx context.Context, exec sqlx.ExtContext, id string, periods models.PeriodList) error {
	s.updatedIDs = append(s.updatedIDs, id)
	return nil
}

func (s *classDateStoreStub) DeleteTx(ctx context.Context, exec sqlx.ExtContext, ids []string) error {
	s.deletedIDs = append(s.deletedIDs, ids...)
	return nil
}

type snapshotProviderStub struct {
	snapshot *models.CalendarSnapshot
	err      error
}

func (s snapshotProviderStub) Snapshot(ctx context.Context, fiscalYear int, calendarID string) (*models.CalendarSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

type txProviderMock struct {
	db *sqlx.DB
}

func newTxProviderMock(t *testing.T) (*txProviderMock, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	t.Cleanup(func() { db.Close() })
	return &txProviderMock{db: sqlxdb}, mock
}

func (p *txProviderMock) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

type timetableFixture struct {
	svc        *TimetableService
	courses    *courseRepoStub
	classDates *classDateStoreStub
	mock       sqlmock.Sqlmock
}

func newTimetableFixture(t *testing.T, snapshot *models.CalendarSnapshot) *timetableFixture {
	courses := &courseRepoStub{courses: map[string]*models.Course{}}
	classDates := &classDateStoreStub{}
	tx, mock := newTxProviderMock(t)
	svc := NewTimetableService(
		courses,
		classDates,
		snapshotProviderStub{snapshot: snapshot},
		tx,
		validator.New(),
		zap.NewNop(),
		nil,
		TimetableConfig{ProposalTTL: time.Hour, RecommendedAbsenceRatio: 0.2},
	)
	return &timetableFixture{svc: svc, courses: courses, classDates: classDates, mock: mock}
}

func (f *timetableFixture) seedCourse(course models.Course) {
	copied := course
	f.courses.courses[course.ID] = &copied
}

func scheduledCourse() models.Course {
	return models.Course{
		ID:            "course-1",
		UserID:        "user-1",
		Name:          "Algorithms",
		FiscalYear:    2025,
		CalendarID:    "cal-main",
		TermIDs:       []string{"term-1"},
		WeeklySlots:   models.WeeklySlotList{{DayOfWeek: 1, Period: 2}},
		SpecialOption: models.SpecialScheduleAll,
	}
}

// --- Tests ---

func TestCreateCourseGeneratesClassDates(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	course, err := f.svc.CreateCourse(context.Background(), "user-1", dto.CreateCourseRequest{
		Name:       "Algorithms",
		FiscalYear: 2025,
		CalendarID: "cal-main",
		ScheduleSelection: dto.ScheduleSelection{
			TermIDs:     []string{"term-1"},
			WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, course.ID)
	assert.Len(t, f.classDates.inserted, 3)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCreateCourseOnDemandSkipsGeneration(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))

	course, err := f.svc.CreateCourse(context.Background(), "user-1", dto.CreateCourseRequest{
		Name:       "Seminar",
		FiscalYear: 2025,
		CalendarID: "cal-main",
		IsOnDemand: true,
		ScheduleSelection: dto.ScheduleSelection{
			TermIDs:     []string{"term-1"},
			WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
		},
	})
	require.NoError(t, err)
	assert.True(t, course.IsOnDemand)
	assert.Empty(t, course.TermIDs, "on-demand courses carry no weekly pattern")
	assert.Empty(t, course.WeeklySlots)
	require.NotNil(t, course.MaxAbsenceDays)
	assert.Equal(t, 0, *course.MaxAbsenceDays)
	assert.Empty(t, f.classDates.inserted)
}

func TestCreateCourseRejectsBreakTerm(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 3)
	snapshot.Terms = append(snapshot.Terms, models.Term{
		ID: "break-1", CalendarID: "cal-main", FiscalYear: 2025,
		Name: "Spring Break", Classification: models.TermClassificationBreak, Position: 2,
	})
	f := newTimetableFixture(t, snapshot)

	_, err := f.svc.CreateCourse(context.Background(), "user-1", dto.CreateCourseRequest{
		Name:       "Algorithms",
		FiscalYear: 2025,
		CalendarID: "cal-main",
		ScheduleSelection: dto.ScheduleSelection{
			TermIDs:     []string{"break-1"},
			WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPreviewScheduleReturnsProposal(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 4))
	f.seedCourse(scheduledCourse())

	preview, err := f.svc.PreviewSchedule(context.Background(), "course-1", "user-1", dto.PreviewScheduleRequest{
		ScheduleSelection: dto.ScheduleSelection{
			TermIDs:     []string{"term-1"},
			WeeklySlots: []models.WeeklySlot{{DayOfWeek: 2, Period: 3}},
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, preview.ProposalID)
	assert.Len(t, preview.Dates, 4)
	assert.Equal(t, 0, preview.RecommendedMaxAbsence)
	assert.Empty(t, f.classDates.inserted, "preview must not persist")
}

func TestPreviewScheduleRejectsOnDemand(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 4))
	course := scheduledCourse()
	course.IsOnDemand = true
	f.seedCourse(course)

	_, err := f.svc.PreviewSchedule(context.Background(), "course-1", "user-1", dto.PreviewScheduleRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApplyScheduleHappyPath(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	f.seedCourse(scheduledCourse())
	f.classDates.rows = []models.ClassDate{
		{ID: "cd-old", CourseID: "course-1", Date: "2025-01-06", Periods: models.PeriodList{2}},
	}

	selection := dto.ScheduleSelection{
		TermIDs:     []string{"term-1"},
		WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
	}
	preview, err := f.svc.PreviewSchedule(context.Background(), "course-1", "user-1", dto.PreviewScheduleRequest{ScheduleSelection: selection})
	require.NoError(t, err)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	result, err := f.svc.ApplySchedule(context.Background(), "course-1", "user-1", dto.ApplyScheduleRequest{
		ProposalID:        preview.ProposalID,
		MaxAbsenceDays:    intPtr(2),
		ScheduleSelection: selection,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Created)
	assert.Equal(t, 0, result.Updated)
	assert.Equal(t, 1, result.Deleted)
	assert.Equal(t, []string{"cd-old"}, f.classDates.deletedIDs)
	require.NotNil(t, result.Course.MaxAbsenceDays)
	assert.Equal(t, 2, *result.Course.MaxAbsenceDays)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	// A consumed proposal cannot be replayed.
	_, err = f.svc.ApplySchedule(context.Background(), "course-1", "user-1", dto.ApplyScheduleRequest{
		ProposalID:        preview.ProposalID,
		ScheduleSelection: selection,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestApplyScheduleRejectsStaleProposal(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	f.seedCourse(scheduledCourse())

	preview, err := f.svc.PreviewSchedule(context.Background(), "course-1", "user-1", dto.PreviewScheduleRequest{
		ScheduleSelection: dto.ScheduleSelection{
			TermIDs:     []string{"term-1"},
			WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
		},
	})
	require.NoError(t, err)

	// The form changed after the preview: different slot set.
	_, err = f.svc.ApplySchedule(context.Background(), "course-1", "user-1", dto.ApplyScheduleRequest{
		ProposalID: preview.ProposalID,
		ScheduleSelection: dto.ScheduleSelection{
			TermIDs:     []string{"term-1"},
			WeeklySlots: []models.WeeklySlot{{DayOfWeek: 3, Period: 1}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrStaleProposal.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.classDates.inserted)
}

func TestApplyScheduleRejectsLockedCourse(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	course := scheduledCourse()
	course.AttendanceLocked = true
	f.seedCourse(course)

	_, err := f.svc.ApplySchedule(context.Background(), "course-1", "user-1", dto.ApplyScheduleRequest{
		ProposalID: "prop-1",
		ScheduleSelection: dto.ScheduleSelection{
			TermIDs:     []string{"term-1"},
			WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleLocked.Code, appErrors.FromError(err).Code)
}

func TestApplyScheduleRecheckAttendanceAtSave(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	f.seedCourse(scheduledCourse())

	selection := dto.ScheduleSelection{
		TermIDs:     []string{"term-1"},
		WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
	}
	preview, err := f.svc.PreviewSchedule(context.Background(), "course-1", "user-1", dto.PreviewScheduleRequest{ScheduleSelection: selection})
	require.NoError(t, err)

	// Attendance arrives between preview and apply, before the flag is set.
	f.classDates.hasAttendance = true

	_, err = f.svc.ApplySchedule(context.Background(), "course-1", "user-1", dto.ApplyScheduleRequest{
		ProposalID:        preview.ProposalID,
		ScheduleSelection: selection,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleLocked.Code, appErrors.FromError(err).Code)
}

func TestApplyScheduleRejectsForeignProposal(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	f.seedCourse(scheduledCourse())
	other := scheduledCourse()
	other.ID = "course-2"
	f.seedCourse(other)

	selection := dto.ScheduleSelection{
		TermIDs:     []string{"term-1"},
		WeeklySlots: []models.WeeklySlot{{DayOfWeek: 1, Period: 2}},
	}
	preview, err := f.svc.PreviewSchedule(context.Background(), "course-2", "user-1", dto.PreviewScheduleRequest{ScheduleSelection: selection})
	require.NoError(t, err)

	_, err = f.svc.ApplySchedule(context.Background(), "course-1", "user-1", dto.ApplyScheduleRequest{
		ProposalID:        preview.ProposalID,
		ScheduleSelection: selection,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUpdateCourseOnDemandFlipHonoursLock(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	course := scheduledCourse()
	course.AttendanceLocked = true
	f.seedCourse(course)

	_, err := f.svc.UpdateCourse(context.Background(), "course-1", "user-1", dto.UpdateCourseRequest{
		IsOnDemand: boolPtr(true),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrScheduleLocked.Code, appErrors.FromError(err).Code)
}

func TestUpdateCourseSwitchToOnDemandClearsSchedule(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	f.seedCourse(scheduledCourse())
	f.classDates.rows = []models.ClassDate{
		{ID: "cd-1", CourseID: "course-1", Date: "2025-04-07", Periods: models.PeriodList{2}},
		{ID: "cd-2", CourseID: "course-1", Date: "2025-04-14", Periods: models.PeriodList{2}, HasUserModifications: true},
	}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	course, err := f.svc.UpdateCourse(context.Background(), "course-1", "user-1", dto.UpdateCourseRequest{
		IsOnDemand: boolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, course.IsOnDemand)
	assert.Empty(t, course.WeeklySlots)
	assert.Equal(t, []string{"cd-1"}, f.classDates.deletedIDs, "user-modified dates survive the switch")
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUnlockClearsFlag(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	course := scheduledCourse()
	course.AttendanceLocked = true
	f.seedCourse(course)

	unlocked, err := f.svc.Unlock(context.Background(), "course-1", "user-1")
	require.NoError(t, err)
	assert.False(t, unlocked.AttendanceLocked)
	assert.False(t, f.courses.courses["course-1"].AttendanceLocked)
}

func TestGetCourseOwnership(t *testing.T) {
	f := newTimetableFixture(t, buildTermSnapshot("term-1", "2025-04-07", 3))
	f.seedCourse(scheduledCourse())

	_, err := f.svc.GetCourse(context.Background(), "course-1", "user-2")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.GetCourse(context.Background(), "missing", "user-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
