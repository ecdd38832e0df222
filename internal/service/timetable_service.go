package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/sotakn/campus-timetable-api/internal/dto"
	"github.com/sotakn/campus-timetable-api/internal/models"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
)

type courseRepository interface {
	Create(ctx context.Context, course *models.Course) error
	CreateTx(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error
	FindByID(ctx context.Context, id string) (*models.Course, error)
	ListByUser(ctx context.Context, userID string, fiscalYear int) ([]models.Course, error)
	Update(ctx context.Context, course *models.Course) error
	UpdateScheduleTx(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error
	SetAttendanceLocked(ctx context.Context, id string, locked bool) error
	Delete(ctx context.Context, id string) error
}

type classDateStore interface {
	ListByCourse(ctx context.Context, courseID string) ([]models.ClassDate, error)
	HasAttendance(ctx context.Context, courseID string) (bool, error)
	BulkInsertTx(ctx context.Context, exec sqlx.ExtContext, rows []models.ClassDate) error
	UpdatePeriodsTx(ctx context.Context, exec sqlx.ExtContext, id string, periods models.PeriodList) error
	DeleteTx(ctx context.Context, exec sqlx.ExtContext, ids []string) error
}

type snapshotProvider interface {
	Snapshot(ctx context.Context, fiscalYear int, calendarID string) (*models.CalendarSnapshot, error)
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// TimetableConfig governs the preview/apply flow and absence policy.
type TimetableConfig struct {
	ProposalTTL             time.Duration
	RecommendedAbsenceRatio float64
}

// TimetableService owns course scheduling: generation previews, transactional
// schedule application with reconciliation, and the attendance lock guard.
type TimetableService struct {
	courses    courseRepository
	classDates classDateStore
	calendar   snapshotProvider
	tx         txProvider
	validator  *validator.Validate
	logger     *zap.Logger
	metrics    *MetricsService
	store      *previewStore
	cfg        TimetableConfig
}

// NewTimetableService wires timetable dependencies.
func NewTimetableService(
	courses courseRepository,
	classDates classDateStore,
	calendar snapshotProvider,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	metrics *MetricsService,
	cfg TimetableConfig,
) *TimetableService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProposalTTL <= 0 {
		cfg.ProposalTTL = 30 * time.Minute
	}
	if cfg.RecommendedAbsenceRatio <= 0 || cfg.RecommendedAbsenceRatio >= 1 {
		cfg.RecommendedAbsenceRatio = 0.2
	}
	svc := &TimetableService{
		courses:    courses,
		classDates: classDates,
		calendar:   calendar,
		tx:         tx,
		validator:  validate,
		logger:     logger,
		metrics:    metrics,
		store:      newPreviewStore(cfg.ProposalTTL),
		cfg:        cfg,
	}
	_ = svc.validator.RegisterValidation("special_schedule_option", func(fl validator.FieldLevel) bool {
		return models.SpecialScheduleOption(strings.ToLower(fl.Field().String())).Valid()
	})
	return svc
}

// CreateCourse registers a course; schedulable courses get their class dates
// generated and persisted in the same transaction as the course row.
func (s *TimetableService) CreateCourse(ctx context.Context, userID string, req dto.CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}

	course := &models.Course{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          req.Name,
		FiscalYear:    req.FiscalYear,
		CalendarID:    req.CalendarID,
		SpecialOption: normalizeOption(req.SpecialOption),
		IsOnDemand:    req.IsOnDemand,
	}

	if req.IsOnDemand {
		// On-demand courses carry no weekly pattern and no absence budget.
		course.TermIDs = nil
		course.WeeklySlots = nil
		zero := 0
		course.MaxAbsenceDays = &zero
		if err := s.courses.Create(ctx, course); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
		}
		return course, nil
	}

	course.TermIDs = uniqueSorted(req.TermIDs)
	course.WeeklySlots = models.WeeklySlotList(req.WeeklySlots).Canonical()
	course.MaxAbsenceDays = req.MaxAbsenceDays

	var generated []models.GeneratedClassDate
	if len(course.TermIDs) > 0 && len(course.WeeklySlots) > 0 {
		snapshot, err := s.calendar.Snapshot(ctx, course.FiscalYear, course.CalendarID)
		if err != nil {
			return nil, err
		}
		if err := s.ensureTermsSelectable(snapshot, course.TermIDs); err != nil {
			return nil, err
		}
		generated = s.generate(snapshot, course.TermIDs, course.WeeklySlots, course.SpecialOption)
	}

	if len(generated) == 0 {
		if err := s.courses.Create(ctx, course); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
		}
		return course, nil
	}

	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.courses.CreateTx(ctx, tx, course); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create course")
		return nil, err
	}
	if err = s.classDates.BulkInsertTx(ctx, tx, buildClassDateRows(course.ID, generated)); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist class dates")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit course")
		return nil, err
	}
	return course, nil
}

// GetCourse loads a course owned by the user.
func (s *TimetableService) GetCourse(ctx context.Context, courseID, userID string) (*models.Course, error) {
	return s.loadOwned(ctx, courseID, userID)
}

// ListCourses returns the user's courses, optionally scoped to a fiscal year.
func (s *TimetableService) ListCourses(ctx context.Context, userID string, fiscalYear int) ([]models.Course, error) {
	courses, err := s.courses.ListByUser(ctx, userID, fiscalYear)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list courses")
	}
	return courses, nil
}

// UpdateCourse mutates metadata. Flipping the on-demand flag counts as a
// schedule edit and is rejected while the course is attendance-locked.
func (s *TimetableService) UpdateCourse(ctx context.Context, courseID, userID string, req dto.UpdateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid course payload")
	}
	course, err := s.loadOwned(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		course.Name = *req.Name
	}
	if req.MaxAbsenceDays != nil {
		course.MaxAbsenceDays = req.MaxAbsenceDays
	}

	if req.IsOnDemand != nil && *req.IsOnDemand != course.IsOnDemand {
		if err := s.ensureUnlocked(ctx, course); err != nil {
			return nil, err
		}
		if *req.IsOnDemand {
			return s.switchToOnDemand(ctx, course)
		}
		course.IsOnDemand = false
	}

	if course.IsOnDemand {
		zero := 0
		course.MaxAbsenceDays = &zero
	}

	if err := s.courses.Update(ctx, course); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
	}
	return course, nil
}

// switchToOnDemand clears the weekly pattern, zeroes the absence budget and
// removes reconcilable class dates in one transaction.
func (s *TimetableService) switchToOnDemand(ctx context.Context, course *models.Course) (*models.Course, error) {
	existing, err := s.classDates.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class dates")
	}
	plan := BuildReconciliationPlan(existing, nil)

	course.IsOnDemand = true
	course.TermIDs = nil
	course.WeeklySlots = nil
	zero := 0
	course.MaxAbsenceDays = &zero

	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.courses.UpdateScheduleTx(ctx, tx, course); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course")
		return nil, err
	}
	if err = s.classDates.DeleteTx(ctx, tx, plan.Deletes); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class dates")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit course")
		return nil, err
	}
	return course, nil
}

// DeleteCourse removes a course and its class dates.
func (s *TimetableService) DeleteCourse(ctx context.Context, courseID, userID string) error {
	if _, err := s.loadOwned(ctx, courseID, userID); err != nil {
		return err
	}
	if err := s.courses.Delete(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "course not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete course")
	}
	return nil
}

// ListClassDates returns the persisted occurrences of a course.
func (s *TimetableService) ListClassDates(ctx context.Context, courseID, userID string) ([]models.ClassDate, error) {
	if _, err := s.loadOwned(ctx, courseID, userID); err != nil {
		return nil, err
	}
	rows, err := s.classDates.ListByCourse(ctx, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class dates")
	}
	return rows, nil
}

// PreviewSchedule generates the dates a selection would produce and parks
// them as a proposal for the apply step.
func (s *TimetableService) PreviewSchedule(ctx context.Context, courseID, userID string, req dto.PreviewScheduleRequest) (*dto.PreviewScheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	course, err := s.loadOwned(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}
	if course.IsOnDemand {
		return nil, appErrors.Clone(appErrors.ErrValidation, "on-demand courses have no generated schedule")
	}

	snapshot, err := s.calendar.Snapshot(ctx, course.FiscalYear, course.CalendarID)
	if err != nil {
		return nil, err
	}

	termIDs := uniqueSorted(req.TermIDs)
	slots := models.WeeklySlotList(req.WeeklySlots).Canonical()
	option := normalizeOption(req.SpecialOption)
	if err := s.ensureTermsSelectable(snapshot, termIDs); err != nil {
		return nil, err
	}

	dates := s.generate(snapshot, termIDs, slots, option)

	proposal := schedulePreview{
		ProposalID:  uuid.NewString(),
		CourseID:    course.ID,
		Fingerprint: scheduleFingerprint(course.FiscalYear, course.CalendarID, termIDs, slots, option),
		TermIDs:     termIDs,
		Slots:       slots,
		Option:      option,
		Dates:       dates,
		RequestedAt: time.Now().UTC(),
	}
	s.store.Save(proposal)

	return &dto.PreviewScheduleResponse{
		ProposalID:            proposal.ProposalID,
		Dates:                 dates,
		RecommendedMaxAbsence: RecommendedMaxAbsence(len(dates), s.cfg.RecommendedAbsenceRatio),
		ExpiresAt:             proposal.RequestedAt.Add(s.cfg.ProposalTTL),
	}, nil
}

// ApplySchedule commits a previewed proposal: re-validates the attendance
// lock, rejects stale proposals whose inputs no longer match the current
// selection, and applies the reconciliation plan transactionally.
func (s *TimetableService) ApplySchedule(ctx context.Context, courseID, userID string, req dto.ApplyScheduleRequest) (*dto.ApplyScheduleResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid apply payload")
	}
	course, err := s.loadOwned(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}
	if course.IsOnDemand {
		return nil, appErrors.Clone(appErrors.ErrValidation, "on-demand courses have no generated schedule")
	}
	if err := s.ensureUnlocked(ctx, course); err != nil {
		return nil, err
	}

	proposal, ok := s.store.Get(req.ProposalID)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule proposal not found or expired")
	}
	if proposal.CourseID != course.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "proposal belongs to another course")
	}

	termIDs := uniqueSorted(req.TermIDs)
	slots := models.WeeklySlotList(req.WeeklySlots).Canonical()
	option := normalizeOption(req.SpecialOption)
	if scheduleFingerprint(course.FiscalYear, course.CalendarID, termIDs, slots, option) != proposal.Fingerprint {
		return nil, appErrors.Clone(appErrors.ErrStaleProposal, "")
	}

	existing, err := s.classDates.ListByCourse(ctx, course.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list class dates")
	}
	plan := BuildReconciliationPlan(existing, proposal.Dates)

	course.TermIDs = termIDs
	course.WeeklySlots = slots
	course.SpecialOption = option
	if req.MaxAbsenceDays != nil {
		course.MaxAbsenceDays = req.MaxAbsenceDays
	}

	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.courses.UpdateScheduleTx(ctx, tx, course); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update course schedule")
		return nil, err
	}
	if err = s.classDates.BulkInsertTx(ctx, tx, buildClassDateRows(course.ID, plan.Creates)); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to insert class dates")
		return nil, err
	}
	for _, update := range plan.Updates {
		if err = s.classDates.UpdatePeriodsTx(ctx, tx, update.ID, update.Periods); err != nil {
			err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update class dates")
			return nil, err
		}
	}
	if err = s.classDates.DeleteTx(ctx, tx, plan.Deletes); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete class dates")
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule")
		return nil, err
	}

	s.store.Delete(req.ProposalID)
	return &dto.ApplyScheduleResponse{
		Course:  course,
		Created: len(plan.Creates),
		Updated: len(plan.Updates),
		Deleted: len(plan.Deletes),
	}, nil
}

// Unlock clears the attendance lock. This is an explicit administrative
// action; it is never triggered by data state.
func (s *TimetableService) Unlock(ctx context.Context, courseID, userID string) (*models.Course, error) {
	course, err := s.loadOwned(ctx, courseID, userID)
	if err != nil {
		return nil, err
	}
	if !course.AttendanceLocked {
		return course, nil
	}
	if err := s.courses.SetAttendanceLocked(ctx, courseID, false); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to unlock course")
	}
	course.AttendanceLocked = false
	return course, nil
}

func (s *TimetableService) generate(snapshot *models.CalendarSnapshot, termIDs []string, slots models.WeeklySlotList, option models.SpecialScheduleOption) []models.GeneratedClassDate {
	start := time.Now()
	dates := GenerateClassDates(snapshot, termIDs, slots, option)
	if s.metrics != nil {
		s.metrics.ObserveScheduleGeneration(time.Since(start), len(dates))
	}
	return dates
}

// ensureUnlocked re-validates the schedule lock at the save boundary: both
// the persisted flag and the presence of any recorded attendance block edits.
func (s *TimetableService) ensureUnlocked(ctx context.Context, course *models.Course) error {
	if course.AttendanceLocked {
		return appErrors.Clone(appErrors.ErrScheduleLocked, "")
	}
	hasAttendance, err := s.classDates.HasAttendance(ctx, course.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance state")
	}
	if hasAttendance {
		return appErrors.Clone(appErrors.ErrScheduleLocked, "")
	}
	return nil
}

func (s *TimetableService) ensureTermsSelectable(snapshot *models.CalendarSnapshot, termIDs []string) error {
	for _, id := range termIDs {
		term, ok := snapshot.Term(id)
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term %s not found in calendar", id))
		}
		if !term.Classification.Selectable() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("term %s is not an instructional period", id))
		}
	}
	return nil
}

func (s *TimetableService) loadOwned(ctx context.Context, courseID, userID string) (*models.Course, error) {
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

func buildClassDateRows(courseID string, dates []models.GeneratedClassDate) []models.ClassDate {
	rows := make([]models.ClassDate, 0, len(dates))
	for _, date := range dates {
		rows = append(rows, models.ClassDate{
			CourseID:     courseID,
			Date:         date.Date,
			Periods:      append(models.PeriodList(nil), date.Periods...),
			DeliveryType: models.DeliveryTypeUnknown,
		})
	}
	return rows
}

func normalizeOption(raw string) models.SpecialScheduleOption {
	option := models.SpecialScheduleOption(strings.ToLower(strings.TrimSpace(raw)))
	if !option.Valid() {
		return models.SpecialScheduleAll
	}
	return option
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	result := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// scheduleFingerprint hashes a canonicalised selection so a preview computed
// for older inputs can be detected and discarded instead of overwriting a
// newer configuration.
func scheduleFingerprint(fiscalYear int, calendarID string, termIDs []string, slots models.WeeklySlotList, option models.SpecialScheduleOption) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d|%s|%s|%s|", fiscalYear, calendarID, strings.Join(termIDs, ","), option)
	for _, slot := range slots {
		fmt.Fprintf(&b, "%d:%d;", slot.DayOfWeek, slot.Period)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// --- Preview proposal cache ---

type schedulePreview struct {
	ProposalID  string
	CourseID    string
	Fingerprint string
	TermIDs     []string
	Slots       models.WeeklySlotList
	Option      models.SpecialScheduleOption
	Dates       []models.GeneratedClassDate
	RequestedAt time.Time
}

type previewStore struct {
	ttl   time.Duration
	mu    sync.RWMutex
	items map[string]schedulePreview
}

func newPreviewStore(ttl time.Duration) *previewStore {
	return &previewStore{
		ttl:   ttl,
		items: make(map[string]schedulePreview),
	}
}

func (s *previewStore) Save(preview schedulePreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[preview.ProposalID] = preview
}

func (s *previewStore) Get(id string) (schedulePreview, bool) {
	s.mu.RLock()
	preview, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return schedulePreview{}, false
	}
	if time.Since(preview.RequestedAt) > s.ttl {
		s.Delete(id)
		return schedulePreview{}, false
	}
	return preview, true
}

func (s *previewStore) Delete(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}
