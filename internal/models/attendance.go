package models

// AttendanceSummary aggregates a course's class dates into status buckets.
// It is derived on every read and never persisted.
type AttendanceSummary struct {
	PresentCount    int  `json:"present_count"`
	LateCount       int  `json:"late_count"`
	AbsentCount     int  `json:"absent_count"`
	UnrecordedCount int  `json:"unrecorded_count"`
	TotalCount      int  `json:"total_count"`
	MaxAbsenceDays  *int `json:"max_absence_days"`
}

// AbsenceMessage is the human-facing remaining-absence notice derived from a
// summary. Emphasized marks the boundary and over-budget warnings.
type AbsenceMessage struct {
	Text       string `json:"text"`
	Emphasized bool   `json:"emphasized"`
}

// Pagination describes list paging metadata.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
