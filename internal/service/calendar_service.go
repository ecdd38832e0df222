package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sotakn/campus-timetable-api/internal/models"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
)

type calendarRepository interface {
	ListTerms(ctx context.Context, fiscalYear int, calendarID string) ([]models.Term, error)
	ListDays(ctx context.Context, fiscalYear int, calendarID string) ([]models.CalendarDay, error)
}

// CalendarService assembles read-only calendar snapshots for a fiscal year
// and calendar. Published calendar data is immutable, so snapshots are cached
// aggressively and never invalidated mid-session.
type CalendarService struct {
	repo   calendarRepository
	cache  *CacheService
	logger *zap.Logger
}

// NewCalendarService constructs a calendar service.
func NewCalendarService(repo calendarRepository, cache *CacheService, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarService{repo: repo, cache: cache, logger: logger}
}

func snapshotCacheKey(fiscalYear int, calendarID string) string {
	return fmt.Sprintf("calendar:snapshot:%d:%s", fiscalYear, calendarID)
}

// Snapshot loads the term/day view for one (fiscalYear, calendarID) pair.
// A fetch failure surfaces as CALENDAR_UNAVAILABLE and is not retried here;
// retrying is a caller concern.
func (s *CalendarService) Snapshot(ctx context.Context, fiscalYear int, calendarID string) (*models.CalendarSnapshot, error) {
	if fiscalYear <= 0 || calendarID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "fiscal year and calendar id are required")
	}

	key := snapshotCacheKey(fiscalYear, calendarID)
	if s.cache != nil {
		var cached models.CalendarSnapshot
		if s.cache.Get(ctx, key, &cached) {
			return &cached, nil
		}
	}

	terms, err := s.repo.ListTerms(ctx, fiscalYear, calendarID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCalendarUnavailable.Code, appErrors.ErrCalendarUnavailable.Status, "failed to load terms")
	}
	if len(terms) == 0 {
		return nil, appErrors.Clone(appErrors.ErrCalendarUnavailable, fmt.Sprintf("no calendar published for %d/%s", fiscalYear, calendarID))
	}

	days, err := s.repo.ListDays(ctx, fiscalYear, calendarID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCalendarUnavailable.Code, appErrors.ErrCalendarUnavailable.Status, "failed to load calendar days")
	}

	snapshot := &models.CalendarSnapshot{
		FiscalYear: fiscalYear,
		CalendarID: calendarID,
		Terms:      terms,
		DaysByTerm: make(map[string][]models.CalendarDay, len(terms)),
	}
	for _, day := range days {
		snapshot.DaysByTerm[day.TermID] = append(snapshot.DaysByTerm[day.TermID], day)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, snapshot)
	}
	return snapshot, nil
}

// SelectableTerms returns the terms a course may be scheduled against.
func (s *CalendarService) SelectableTerms(ctx context.Context, fiscalYear int, calendarID string) ([]models.Term, error) {
	snapshot, err := s.Snapshot(ctx, fiscalYear, calendarID)
	if err != nil {
		return nil, err
	}
	return snapshot.SelectableTerms(), nil
}
