package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceStatus is the recorded outcome for one class occurrence. A nil
// status on a ClassDate means attendance has not been recorded yet.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// DeliveryType describes how a session is held.
type DeliveryType string

const (
	DeliveryTypeInPerson DeliveryType = "IN_PERSON"
	DeliveryTypeRemote   DeliveryType = "REMOTE"
	DeliveryTypeUnknown  DeliveryType = "UNKNOWN"
)

// Valid returns true when the delivery type is a supported value.
func (d DeliveryType) Valid() bool {
	switch d {
	case DeliveryTypeInPerson, DeliveryTypeRemote, DeliveryTypeUnknown:
		return true
	default:
		return false
	}
}

// PeriodList is a jsonb-persisted ordered period set.
type PeriodList []int

// Value implements driver.Valuer for jsonb storage.
func (l PeriodList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for jsonb storage.
func (l *PeriodList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported period list scan type %T", src)
	}
}

// ClassDate is one persisted course occurrence. Rows are created in bulk by
// the schedule generator and mutated individually afterwards; once
// HasUserModifications is set, regeneration must not overwrite the row.
type ClassDate struct {
	ID                    string            `db:"id" json:"id"`
	CourseID              string            `db:"course_id" json:"course_id"`
	Date                  string            `db:"class_date" json:"date"`
	Periods               PeriodList        `db:"periods" json:"periods"`
	AttendanceStatus      *AttendanceStatus `db:"attendance_status" json:"attendance_status"`
	DeliveryType          DeliveryType      `db:"delivery_type" json:"delivery_type"`
	IsTest                bool              `db:"is_test" json:"is_test"`
	IsCancelled           bool              `db:"is_cancelled" json:"is_cancelled"`
	IsExcludedFromSummary bool              `db:"is_excluded_from_summary" json:"is_excluded_from_summary"`
	HasUserModifications  bool              `db:"has_user_modifications" json:"has_user_modifications"`
	CreatedAt             time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time         `db:"updated_at" json:"updated_at"`
}

// CountsTowardSummary reports whether the row participates in attendance
// totals at all. Cancelled and excluded sessions contribute to no bucket.
func (d ClassDate) CountsTowardSummary() bool {
	return !d.IsCancelled && !d.IsExcludedFromSummary
}
