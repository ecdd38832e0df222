package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// SpecialScheduleOption filters which instances of a weekly pattern actually
// occur, keyed off the week-of-term ordinal supplied by the calendar.
type SpecialScheduleOption string

const (
	SpecialScheduleAll        SpecialScheduleOption = "all"
	SpecialScheduleFirstHalf  SpecialScheduleOption = "first_half"
	SpecialScheduleSecondHalf SpecialScheduleOption = "second_half"
	SpecialScheduleOddWeeks   SpecialScheduleOption = "odd_weeks"
	SpecialScheduleEvenWeeks  SpecialScheduleOption = "even_weeks"
)

// Valid reports whether the option is a supported value.
func (o SpecialScheduleOption) Valid() bool {
	switch o {
	case SpecialScheduleAll, SpecialScheduleFirstHalf, SpecialScheduleSecondHalf,
		SpecialScheduleOddWeeks, SpecialScheduleEvenWeeks:
		return true
	default:
		return false
	}
}

// Matches reports whether a day in the given week of a term survives the
// filter. Week ordinals are 1-based; the first half spans ceil(total/2) weeks.
func (o SpecialScheduleOption) Matches(weekOfTerm, totalWeeks int) bool {
	switch o {
	case SpecialScheduleFirstHalf:
		return weekOfTerm <= (totalWeeks+1)/2
	case SpecialScheduleSecondHalf:
		return weekOfTerm > (totalWeeks+1)/2
	case SpecialScheduleOddWeeks:
		return weekOfTerm%2 == 1
	case SpecialScheduleEvenWeeks:
		return weekOfTerm%2 == 0
	default:
		return true
	}
}

const (
	// OnDemandPeriod is the sentinel period for unscheduled (on-demand) slots.
	OnDemandPeriod = 0
	// MaxPeriod caps numbered class periods; slots outside 0..MaxPeriod are
	// treated as corrupt and dropped.
	MaxPeriod = 10
)

// PeriodLabel renders a period number for display, using "OD" for on-demand.
func PeriodLabel(period int) string {
	if period == OnDemandPeriod {
		return "OD"
	}
	return fmt.Sprintf("%d", period)
}

// WeeklySlot pairs a day of week (1=Monday..7=Sunday) with a class period
// (0 meaning on-demand).
type WeeklySlot struct {
	DayOfWeek int `json:"day_of_week" validate:"min=1,max=7"`
	Period    int `json:"period" validate:"min=0,max=10"`
}

// Valid reports whether the slot is within supported ranges.
func (s WeeklySlot) Valid() bool {
	return s.DayOfWeek >= 1 && s.DayOfWeek <= 7 && s.Period >= 0 && s.Period <= MaxPeriod
}

// WeeklySlotList is a jsonb-persisted set of weekly slots.
type WeeklySlotList []WeeklySlot

// Value implements driver.Valuer for jsonb storage.
func (l WeeklySlotList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for jsonb storage.
func (l *WeeklySlotList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported weekly slot scan type %T", src)
	}
}

// Canonical sorts slots by day, then period with on-demand last, and removes
// duplicate (day, period) pairs.
func (l WeeklySlotList) Canonical() WeeklySlotList {
	seen := make(map[WeeklySlot]struct{}, len(l))
	result := make(WeeklySlotList, 0, len(l))
	for _, slot := range l {
		if _, ok := seen[slot]; ok {
			continue
		}
		seen[slot] = struct{}{}
		result = append(result, slot)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DayOfWeek != result[j].DayOfWeek {
			return result[i].DayOfWeek < result[j].DayOfWeek
		}
		return periodSortKey(result[i].Period) < periodSortKey(result[j].Period)
	})
	return result
}

// periodSortKey orders numeric periods ascending with on-demand after them.
func periodSortKey(period int) int {
	if period == OnDemandPeriod {
		return MaxPeriod + 1
	}
	return period
}

// SortPeriods orders a period set numerically ascending with on-demand last.
func SortPeriods(periods []int) {
	sort.Slice(periods, func(i, j int) bool {
		return periodSortKey(periods[i]) < periodSortKey(periods[j])
	})
}

// Course is a student's registered course with its scheduling configuration.
type Course struct {
	ID               string                `db:"id" json:"id"`
	UserID           string                `db:"user_id" json:"user_id"`
	Name             string                `db:"name" json:"name"`
	FiscalYear       int                   `db:"fiscal_year" json:"fiscal_year"`
	CalendarID       string                `db:"calendar_id" json:"calendar_id"`
	TermIDs          pq.StringArray        `db:"term_ids" json:"term_ids"`
	WeeklySlots      WeeklySlotList        `db:"weekly_slots" json:"weekly_slots"`
	SpecialOption    SpecialScheduleOption `db:"special_option" json:"special_option"`
	IsOnDemand       bool                  `db:"is_on_demand" json:"is_on_demand"`
	MaxAbsenceDays   *int                  `db:"max_absence_days" json:"max_absence_days"`
	AttendanceLocked bool                  `db:"attendance_locked" json:"attendance_locked"`
	CreatedAt        time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time             `db:"updated_at" json:"updated_at"`
}

// GeneratedClassDate is one concrete course occurrence produced by the
// schedule generator: a calendar date plus every period meeting on it.
type GeneratedClassDate struct {
	Date    string `json:"date"`
	Periods []int  `json:"periods"`
}
