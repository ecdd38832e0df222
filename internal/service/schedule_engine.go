package service

import (
	"math"
	"sort"

	"github.com/sotakn/campus-timetable-api/internal/models"
)

// GenerateClassDates produces the ordered list of concrete course occurrences
// for the selected terms, weekly slots and special-schedule option, using the
// calendar snapshot's day classification and week ordinals.
//
// An empty term or slot selection yields an empty result: the editing UI
// legitimately passes through incomplete states and they are not errors.
// Malformed slots are dropped rather than propagated.
func GenerateClassDates(
	snapshot *models.CalendarSnapshot,
	termIDs []string,
	slots []models.WeeklySlot,
	option models.SpecialScheduleOption,
) []models.GeneratedClassDate {
	if snapshot == nil || len(termIDs) == 0 || len(slots) == 0 {
		return nil
	}
	if !option.Valid() {
		option = models.SpecialScheduleAll
	}

	periodsByDay := make(map[int][]int, 7)
	for _, slot := range models.WeeklySlotList(slots).Canonical() {
		if !slot.Valid() {
			continue
		}
		periodsByDay[slot.DayOfWeek] = append(periodsByDay[slot.DayOfWeek], slot.Period)
	}
	if len(periodsByDay) == 0 {
		return nil
	}

	requested := make(map[string]struct{}, len(termIDs))
	for _, id := range termIDs {
		requested[id] = struct{}{}
	}

	// Terms are walked in calendar order so output stays chronological across
	// term boundaries. Overlapping terms are not produced by normal
	// configuration; byDate merges period sets defensively if they ever are.
	byDate := make(map[string]int)
	var result []models.GeneratedClassDate

	for _, term := range snapshot.Terms {
		if _, ok := requested[term.ID]; !ok {
			continue
		}
		totalWeeks := snapshot.TotalWeeks(term.ID)
		for _, day := range snapshot.DaysByTerm[term.ID] {
			if !day.IsInstructional {
				continue
			}
			periods := periodsByDay[day.DayOfWeek]
			if len(periods) == 0 {
				continue
			}
			if !option.Matches(day.WeekOfTerm, totalWeeks) {
				continue
			}
			if idx, ok := byDate[day.Date]; ok {
				result[idx].Periods = mergePeriods(result[idx].Periods, periods)
				continue
			}
			emitted := models.GeneratedClassDate{
				Date:    day.Date,
				Periods: append([]int(nil), periods...),
			}
			models.SortPeriods(emitted.Periods)
			byDate[day.Date] = len(result)
			result = append(result, emitted)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result
}

// mergePeriods unions two period sets, keeping canonical order.
func mergePeriods(existing, incoming []int) []int {
	seen := make(map[int]struct{}, len(existing)+len(incoming))
	merged := make([]int, 0, len(existing)+len(incoming))
	for _, p := range existing {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	for _, p := range incoming {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			merged = append(merged, p)
		}
	}
	models.SortPeriods(merged)
	return merged
}

// RecommendedMaxAbsence suggests a maximum-absence threshold as a configured
// fraction of total sessions, floored. The ratio is institutional policy, not
// a hard rule; zero or out-of-range ratios fall back to one fifth.
func RecommendedMaxAbsence(sessionCount int, ratio float64) int {
	if sessionCount <= 0 {
		return 0
	}
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.2
	}
	return int(math.Floor(float64(sessionCount) * ratio))
}

// ReconciliationPlan is the set of writes needed to align persisted class
// dates with a freshly generated schedule. The strategy is additive and
// preserving: user-modified rows are never touched.
type ReconciliationPlan struct {
	Creates []models.GeneratedClassDate `json:"creates"`
	Updates []models.ClassDate          `json:"updates"`
	Deletes []string                    `json:"deletes"`
}

// Empty reports whether the plan contains no writes.
func (p ReconciliationPlan) Empty() bool {
	return len(p.Creates) == 0 && len(p.Updates) == 0 && len(p.Deletes) == 0
}

// BuildReconciliationPlan diffs the persisted class dates of a course against
// a newly generated set.
//
//   - Dates only in the new set are created.
//   - Dates in both sets are refreshed (period set) unless user-modified.
//   - Dates only in the old set are deleted when they carry neither user
//     modifications nor recorded attendance; otherwise they are preserved.
func BuildReconciliationPlan(existing []models.ClassDate, generated []models.GeneratedClassDate) ReconciliationPlan {
	var plan ReconciliationPlan

	existingByDate := make(map[string]models.ClassDate, len(existing))
	for _, row := range existing {
		existingByDate[row.Date] = row
	}

	generatedDates := make(map[string]struct{}, len(generated))
	for _, date := range generated {
		generatedDates[date.Date] = struct{}{}
		row, ok := existingByDate[date.Date]
		if !ok {
			plan.Creates = append(plan.Creates, date)
			continue
		}
		if row.HasUserModifications {
			continue
		}
		if !equalPeriods(row.Periods, date.Periods) {
			row.Periods = append(models.PeriodList(nil), date.Periods...)
			plan.Updates = append(plan.Updates, row)
		}
	}

	for _, row := range existing {
		if _, ok := generatedDates[row.Date]; ok {
			continue
		}
		if row.HasUserModifications || row.AttendanceStatus != nil {
			continue
		}
		plan.Deletes = append(plan.Deletes, row.ID)
	}

	return plan
}

func equalPeriods(a models.PeriodList, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
