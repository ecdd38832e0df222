package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sotakn/campus-timetable-api/internal/models"
	appErrors "github.com/sotakn/campus-timetable-api/pkg/errors"
)

type calendarRepoStub struct {
	terms     []models.Term
	days      []models.CalendarDay
	termsErr  error
	daysErr   error
	termCalls int
}

func (s *calendarRepoStub) ListTerms(ctx context.Context, fiscalYear int, calendarID string) ([]models.Term, error) {
	s.termCalls++
	return s.terms, s.termsErr
}

func (s *calendarRepoStub) ListDays(ctx context.Context, fiscalYear int, calendarID string) ([]models.CalendarDay, error) {
	return s.days, s.daysErr
}

type memoryCacheRepo struct {
	values map[string][]byte
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if m.values == nil {
		m.values = map[string][]byte{}
	}
	m.values[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	return nil
}

func calendarFixtureTerms() []models.Term {
	return []models.Term{
		{ID: "term-1", CalendarID: "cal-main", FiscalYear: 2025, Name: "Spring", Classification: models.TermClassificationRegular, Position: 1},
		{ID: "break-1", CalendarID: "cal-main", FiscalYear: 2025, Name: "Summer Break", Classification: models.TermClassificationBreak, Position: 2},
		{ID: "term-2", CalendarID: "cal-main", FiscalYear: 2025, Name: "Fall", Classification: models.TermClassificationRegular, Position: 3},
	}
}

func TestCalendarSnapshotGroupsDaysByTerm(t *testing.T) {
	repo := &calendarRepoStub{
		terms: calendarFixtureTerms(),
		days: []models.CalendarDay{
			{ID: "d1", TermID: "term-1", Date: "2025-04-07", DayOfWeek: 1, IsInstructional: true, WeekOfTerm: 1},
			{ID: "d2", TermID: "term-1", Date: "2025-04-08", DayOfWeek: 2, IsInstructional: true, WeekOfTerm: 1},
			{ID: "d3", TermID: "term-2", Date: "2025-09-01", DayOfWeek: 1, IsInstructional: true, WeekOfTerm: 1},
		},
	}
	svc := NewCalendarService(repo, nil, zap.NewNop())

	snapshot, err := svc.Snapshot(context.Background(), 2025, "cal-main")
	require.NoError(t, err)
	assert.Len(t, snapshot.Terms, 3)
	assert.Len(t, snapshot.DaysByTerm["term-1"], 2)
	assert.Len(t, snapshot.DaysByTerm["term-2"], 1)
}

func TestCalendarSnapshotValidatesArguments(t *testing.T) {
	svc := NewCalendarService(&calendarRepoStub{}, nil, zap.NewNop())

	_, err := svc.Snapshot(context.Background(), 0, "cal-main")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Snapshot(context.Background(), 2025, "")
	require.Error(t, err)
}

func TestCalendarSnapshotUnavailable(t *testing.T) {
	repo := &calendarRepoStub{termsErr: errors.New("connection refused")}
	svc := NewCalendarService(repo, nil, zap.NewNop())

	_, err := svc.Snapshot(context.Background(), 2025, "cal-main")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCalendarUnavailable.Code, appErr.Code)
	assert.Equal(t, appErrors.ErrCalendarUnavailable.Status, appErr.Status)
}

func TestCalendarSnapshotEmptyCalendarIsUnavailable(t *testing.T) {
	svc := NewCalendarService(&calendarRepoStub{}, nil, zap.NewNop())

	_, err := svc.Snapshot(context.Background(), 2025, "cal-main")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCalendarUnavailable.Code, appErrors.FromError(err).Code)
}

func TestCalendarSnapshotServedFromCache(t *testing.T) {
	repo := &calendarRepoStub{
		terms: calendarFixtureTerms(),
		days: []models.CalendarDay{
			{ID: "d1", TermID: "term-1", Date: "2025-04-07", DayOfWeek: 1, IsInstructional: true, WeekOfTerm: 1},
		},
	}
	cacheSvc := NewCacheService(&memoryCacheRepo{}, nil, time.Hour, zap.NewNop(), true)
	svc := NewCalendarService(repo, cacheSvc, zap.NewNop())

	first, err := svc.Snapshot(context.Background(), 2025, "cal-main")
	require.NoError(t, err)
	second, err := svc.Snapshot(context.Background(), 2025, "cal-main")
	require.NoError(t, err)

	assert.Equal(t, 1, repo.termCalls, "second lookup must hit the cache")
	assert.Equal(t, first.DaysByTerm, second.DaysByTerm)
}

func TestSelectableTermsExcludesBreaks(t *testing.T) {
	repo := &calendarRepoStub{
		terms: calendarFixtureTerms(),
		days:  []models.CalendarDay{{ID: "d1", TermID: "term-1", Date: "2025-04-07", DayOfWeek: 1, IsInstructional: true, WeekOfTerm: 1}},
	}
	svc := NewCalendarService(repo, nil, zap.NewNop())

	terms, err := svc.SelectableTerms(context.Background(), 2025, "cal-main")
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, "term-1", terms[0].ID)
	assert.Equal(t, "term-2", terms[1].ID)
}
