package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sotakn/campus-timetable-api/internal/models"
)

// buildTermSnapshot creates a snapshot with one regular term of the given
// number of full Monday-Friday instructional weeks, starting on a Monday.
func buildTermSnapshot(termID string, startDate string, weeks int) *models.CalendarSnapshot {
	start, _ := time.Parse(models.DateLayout, startDate)
	snapshot := &models.CalendarSnapshot{
		FiscalYear: 2025,
		CalendarID: "cal-main",
		Terms: []models.Term{
			{ID: termID, CalendarID: "cal-main", FiscalYear: 2025, Name: termID, Classification: models.TermClassificationRegular, Position: 1},
		},
		DaysByTerm: map[string][]models.CalendarDay{},
	}
	for week := 1; week <= weeks; week++ {
		for weekday := 1; weekday <= 5; weekday++ {
			date := start.AddDate(0, 0, (week-1)*7+weekday-1)
			snapshot.DaysByTerm[termID] = append(snapshot.DaysByTerm[termID], models.CalendarDay{
				ID:              fmt.Sprintf("%s-w%d-d%d", termID, week, weekday),
				CalendarID:      "cal-main",
				FiscalYear:      2025,
				TermID:          termID,
				Date:            date.Format(models.DateLayout),
				DayOfWeek:       weekday,
				IsInstructional: true,
				WeekOfTerm:      week,
			})
		}
	}
	return snapshot
}

func markNonInstructional(snapshot *models.CalendarSnapshot, termID string, dates ...string) {
	skip := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		skip[d] = struct{}{}
	}
	days := snapshot.DaysByTerm[termID]
	for i := range days {
		if _, ok := skip[days[i].Date]; ok {
			days[i].IsInstructional = false
		}
	}
}

func TestGenerateClassDatesEmptySelections(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 4)
	slots := []models.WeeklySlot{{DayOfWeek: 1, Period: 2}}

	assert.Nil(t, GenerateClassDates(nil, []string{"term-1"}, slots, models.SpecialScheduleAll))
	assert.Nil(t, GenerateClassDates(snapshot, nil, slots, models.SpecialScheduleAll))
	assert.Nil(t, GenerateClassDates(snapshot, []string{"term-1"}, nil, models.SpecialScheduleAll))
}

func TestGenerateClassDatesMatchesSlotDays(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 4)
	slots := []models.WeeklySlot{
		{DayOfWeek: 1, Period: 2},
		{DayOfWeek: 3, Period: 4},
	}

	dates := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleAll)
	require.Len(t, dates, 8)

	for _, date := range dates {
		parsed, err := time.Parse(models.DateLayout, date.Date)
		require.NoError(t, err)
		weekday := int(parsed.Weekday())
		assert.Contains(t, []int{1, 3}, weekday)
		if weekday == 1 {
			assert.Equal(t, []int{2}, date.Periods)
		} else {
			assert.Equal(t, []int{4}, date.Periods)
		}
	}
}

func TestGenerateClassDatesOrderedWithoutDuplicates(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 6)
	slots := []models.WeeklySlot{
		{DayOfWeek: 2, Period: 1},
		{DayOfWeek: 2, Period: 3},
		{DayOfWeek: 5, Period: 2},
	}

	dates := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleAll)
	require.NotEmpty(t, dates)

	seen := map[string]struct{}{}
	for i, date := range dates {
		if i > 0 {
			assert.Less(t, dates[i-1].Date, date.Date)
		}
		_, dup := seen[date.Date]
		assert.False(t, dup, "date %s emitted twice", date.Date)
		seen[date.Date] = struct{}{}
	}

	// Two slots on the same day collapse into one occurrence with both periods.
	parsed, _ := time.Parse(models.DateLayout, dates[0].Date)
	require.Equal(t, time.Tuesday, parsed.Weekday())
	assert.Equal(t, []int{1, 3}, dates[0].Periods)
}

func TestGenerateClassDatesSkipsNonInstructionalDays(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 3)
	markNonInstructional(snapshot, "term-1", "2025-04-14")

	dates := GenerateClassDates(snapshot, []string{"term-1"},
		[]models.WeeklySlot{{DayOfWeek: 1, Period: 1}}, models.SpecialScheduleAll)

	require.Len(t, dates, 2)
	assert.Equal(t, "2025-04-07", dates[0].Date)
	assert.Equal(t, "2025-04-21", dates[1].Date)
}

func TestGenerateClassDatesOddEvenPartitionAll(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 5)
	slots := []models.WeeklySlot{{DayOfWeek: 4, Period: 3}}

	all := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleAll)
	odd := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleOddWeeks)
	even := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleEvenWeeks)

	require.Len(t, all, 5)
	assert.Len(t, odd, 3)
	assert.Len(t, even, 2)

	merged := map[string]struct{}{}
	for _, d := range odd {
		merged[d.Date] = struct{}{}
	}
	for _, d := range even {
		_, overlap := merged[d.Date]
		assert.False(t, overlap, "odd and even weeks must be disjoint")
		merged[d.Date] = struct{}{}
	}
	assert.Len(t, merged, len(all))
}

func TestGenerateClassDatesHalvesSplitAtCeil(t *testing.T) {
	// 5 weeks: first half is weeks 1-3, second half weeks 4-5.
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 5)
	slots := []models.WeeklySlot{{DayOfWeek: 2, Period: 1}}

	first := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleFirstHalf)
	second := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleSecondHalf)

	assert.Len(t, first, 3)
	assert.Len(t, second, 2)
	assert.Less(t, first[len(first)-1].Date, second[0].Date)
}

func TestGenerateClassDatesTuesdayOddWeeks(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 4)
	markNonInstructional(snapshot, "term-1", "2025-04-08")

	dates := GenerateClassDates(snapshot, []string{"term-1"},
		[]models.WeeklySlot{{DayOfWeek: 2, Period: 3}}, models.SpecialScheduleOddWeeks)

	// Week 1's Tuesday is a holiday; only week 3's Tuesday remains odd.
	require.Len(t, dates, 1)
	assert.Equal(t, "2025-04-22", dates[0].Date)
	assert.Equal(t, []int{3}, dates[0].Periods)
}

func TestGenerateClassDatesSpansMultipleTermsInOrder(t *testing.T) {
	first := buildTermSnapshot("term-1", "2025-04-07", 2)
	second := buildTermSnapshot("term-2", "2025-09-01", 2)
	snapshot := &models.CalendarSnapshot{
		FiscalYear: 2025,
		CalendarID: "cal-main",
		Terms:      append(first.Terms, second.Terms...),
		DaysByTerm: map[string][]models.CalendarDay{
			"term-1": first.DaysByTerm["term-1"],
			"term-2": second.DaysByTerm["term-2"],
		},
	}

	dates := GenerateClassDates(snapshot, []string{"term-2", "term-1"},
		[]models.WeeklySlot{{DayOfWeek: 1, Period: 1}}, models.SpecialScheduleAll)

	require.Len(t, dates, 4)
	assert.Equal(t, "2025-04-07", dates[0].Date)
	assert.Equal(t, "2025-09-08", dates[3].Date)
}

func TestGenerateClassDatesMergesOverlappingTerms(t *testing.T) {
	// Two selected terms covering the same calendar dates: each date must be
	// emitted once with the union of periods in canonical order.
	first := buildTermSnapshot("term-1", "2025-04-07", 2)
	second := buildTermSnapshot("term-2", "2025-04-07", 2)
	snapshot := &models.CalendarSnapshot{
		FiscalYear: 2025,
		CalendarID: "cal-main",
		Terms:      append(first.Terms, second.Terms...),
		DaysByTerm: map[string][]models.CalendarDay{
			"term-1": first.DaysByTerm["term-1"],
			"term-2": second.DaysByTerm["term-2"],
		},
	}
	slots := []models.WeeklySlot{
		{DayOfWeek: 1, Period: 2},
		{DayOfWeek: 1, Period: models.OnDemandPeriod},
	}

	dates := GenerateClassDates(snapshot, []string{"term-1", "term-2"}, slots, models.SpecialScheduleAll)

	require.Len(t, dates, 2)
	assert.Equal(t, "2025-04-07", dates[0].Date)
	assert.Equal(t, "2025-04-14", dates[1].Date)
	for _, date := range dates {
		assert.Equal(t, []int{2, models.OnDemandPeriod}, date.Periods)
	}
}

func TestGenerateClassDatesUnknownOptionBehavesAsAll(t *testing.T) {
	snapshot := buildTermSnapshot("term-1", "2025-04-07", 2)
	slots := []models.WeeklySlot{{DayOfWeek: 5, Period: 5}}

	all := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleAll)
	unknown := GenerateClassDates(snapshot, []string{"term-1"}, slots, models.SpecialScheduleOption("biweekly"))

	assert.Equal(t, all, unknown)
}

func TestRecommendedMaxAbsence(t *testing.T) {
	assert.Equal(t, 0, RecommendedMaxAbsence(0, 0.2))
	assert.Equal(t, 0, RecommendedMaxAbsence(-3, 0.2))
	assert.Equal(t, 3, RecommendedMaxAbsence(15, 0.2))
	assert.Equal(t, 2, RecommendedMaxAbsence(14, 0.2))
	assert.Equal(t, 2, RecommendedMaxAbsence(15, 1.0/7.0))
	// Out-of-range ratios fall back to one fifth.
	assert.Equal(t, 3, RecommendedMaxAbsence(15, 0))
	assert.Equal(t, 3, RecommendedMaxAbsence(15, 1.5))
}

func TestBuildReconciliationPlanCreatesUpdatesDeletes(t *testing.T) {
	present := models.AttendanceStatusPresent
	existing := []models.ClassDate{
		{ID: "cd-1", Date: "2025-04-07", Periods: models.PeriodList{2}},
		{ID: "cd-2", Date: "2025-04-14", Periods: models.PeriodList{2}},
		{ID: "cd-3", Date: "2025-04-21", Periods: models.PeriodList{2}, HasUserModifications: true},
		{ID: "cd-4", Date: "2025-04-28", Periods: models.PeriodList{2}, AttendanceStatus: &present},
	}
	generated := []models.GeneratedClassDate{
		{Date: "2025-04-07", Periods: []int{2}},
		{Date: "2025-04-14", Periods: []int{3}},
		{Date: "2025-05-05", Periods: []int{3}},
	}

	plan := BuildReconciliationPlan(existing, generated)

	require.Len(t, plan.Creates, 1)
	assert.Equal(t, "2025-05-05", plan.Creates[0].Date)

	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "cd-2", plan.Updates[0].ID)
	assert.Equal(t, models.PeriodList{3}, plan.Updates[0].Periods)

	// cd-3 carries user edits and cd-4 recorded attendance; both survive even
	// though the new schedule no longer covers their dates.
	assert.Empty(t, plan.Deletes)
}

func TestBuildReconciliationPlanPreservesModifiedRows(t *testing.T) {
	existing := []models.ClassDate{
		{ID: "cd-1", Date: "2025-04-07", Periods: models.PeriodList{1}, HasUserModifications: true},
		{ID: "cd-2", Date: "2025-04-14", Periods: models.PeriodList{1}, HasUserModifications: true},
	}
	generated := []models.GeneratedClassDate{
		{Date: "2025-04-07", Periods: []int{5}},
	}

	plan := BuildReconciliationPlan(existing, generated)

	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Updates, "user-modified rows are never rewritten")
	assert.Empty(t, plan.Deletes, "user-modified rows are never removed")
	assert.True(t, plan.Empty())
}

func TestBuildReconciliationPlanDeletesUntouchedRows(t *testing.T) {
	existing := []models.ClassDate{
		{ID: "cd-1", Date: "2025-04-07", Periods: models.PeriodList{1}},
		{ID: "cd-2", Date: "2025-04-14", Periods: models.PeriodList{1}},
	}

	plan := BuildReconciliationPlan(existing, nil)

	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Updates)
	assert.ElementsMatch(t, []string{"cd-1", "cd-2"}, plan.Deletes)
}
