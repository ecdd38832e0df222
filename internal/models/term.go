package models

// DateLayout is the canonical YYYY-MM-DD date identifier format used for
// calendar days, class dates and "today" comparisons. Lexicographic order on
// these strings matches chronological order.
const DateLayout = "2006-01-02"

// TermClassification distinguishes regular instructional terms from breaks
// and other non-teaching periods in the academic calendar.
type TermClassification string

const (
	TermClassificationRegular   TermClassification = "REGULAR"
	TermClassificationExam      TermClassification = "EXAM"
	TermClassificationBreak     TermClassification = "BREAK"
	TermClassificationIntensive TermClassification = "INTENSIVE"
)

// Selectable reports whether courses may be scheduled against this term.
// Only regular instructional periods are eligible.
func (c TermClassification) Selectable() bool {
	return c == TermClassificationRegular
}

// Term models a named instructional sub-period of a fiscal year, owned by the
// academic calendar and read-only to the timetable engine.
type Term struct {
	ID             string             `db:"id" json:"id"`
	CalendarID     string             `db:"calendar_id" json:"calendar_id"`
	FiscalYear     int                `db:"fiscal_year" json:"fiscal_year"`
	Name           string             `db:"name" json:"name"`
	Classification TermClassification `db:"classification" json:"classification"`
	Position       int                `db:"position" json:"position"`
}

// CalendarDay is one classified day within a term: its weekday, whether class
// sessions may run on it, and its 1-based week ordinal inside the term.
type CalendarDay struct {
	ID              string `db:"id" json:"id"`
	CalendarID      string `db:"calendar_id" json:"calendar_id"`
	FiscalYear      int    `db:"fiscal_year" json:"fiscal_year"`
	TermID          string `db:"term_id" json:"term_id"`
	Date            string `db:"day_date" json:"date"`
	DayOfWeek       int    `db:"day_of_week" json:"day_of_week"`
	IsInstructional bool   `db:"is_instructional" json:"is_instructional"`
	WeekOfTerm      int    `db:"week_of_term" json:"week_of_term"`
}

// CalendarSnapshot is the assembled term/day view for one (fiscalYear,
// calendarID) pair. It is treated as an immutable snapshot for the duration
// of a generation call.
type CalendarSnapshot struct {
	FiscalYear int                      `json:"fiscal_year"`
	CalendarID string                   `json:"calendar_id"`
	Terms      []Term                   `json:"terms"`
	DaysByTerm map[string][]CalendarDay `json:"days_by_term"`
}

// Term returns the term with the given ID, when present.
func (s *CalendarSnapshot) Term(id string) (*Term, bool) {
	for i := range s.Terms {
		if s.Terms[i].ID == id {
			return &s.Terms[i], true
		}
	}
	return nil, false
}

// SelectableTerms returns terms eligible for course scheduling, preserving
// calendar order.
func (s *CalendarSnapshot) SelectableTerms() []Term {
	result := make([]Term, 0, len(s.Terms))
	for _, term := range s.Terms {
		if term.Classification.Selectable() {
			result = append(result, term)
		}
	}
	return result
}

// TotalWeeks returns the highest week-of-term ordinal seen in a term's days.
func (s *CalendarSnapshot) TotalWeeks(termID string) int {
	max := 0
	for _, day := range s.DaysByTerm[termID] {
		if day.WeekOfTerm > max {
			max = day.WeekOfTerm
		}
	}
	return max
}
