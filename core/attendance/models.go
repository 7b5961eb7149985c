package attendance

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
)

type (
	Status      string
	SessionType string
	ChangeType  string
)

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusLate    Status = "late"
	StatusExcused Status = "excused"

	SessionMorning SessionType = "morning"
	SessionEvening SessionType = "evening"

	ChangeInitial ChangeType = "initial"
	ChangeUpdate  ChangeType = "update"
)

var (
	Statuses     = []Status{StatusPresent, StatusAbsent, StatusLate, StatusExcused}
	SessionTypes = []SessionType{SessionMorning, SessionEvening}
)

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (st SessionType) Valid() bool {
	return st == SessionMorning || st == SessionEvening
}

// OrDefault returns the morning session when st is unset.
func (st SessionType) OrDefault() SessionType {
	if st == "" {
		return SessionMorning
	}
	return st
}

// Date is a calendar day without a time of day. It travels as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day (in t's location).
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(core.DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, errors.Wrapf(err, "parsing date %q", s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(core.DateLayout)
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	default:
		return fmt.Errorf("attendance.Date: cannot scan %T", src)
	}
	return nil
}

func (d *Date) scanString(s string) error {
	if len(s) > len(core.DateLayout) {
		s = s[:len(core.DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ClockTime is a wall-clock time of day. It travels as HH:MM:SS.
type ClockTime struct {
	time.Time
}

func NewClockTime(hour, min, sec int) ClockTime {
	return ClockTime{time.Date(0, time.January, 1, hour, min, sec, 0, time.UTC)}
}

// ClockOf keeps the time of day of t.
func ClockOf(t time.Time) ClockTime {
	return NewClockTime(t.Hour(), t.Minute(), t.Second())
}

func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse(core.ClockLayout, strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, errors.Wrapf(err, "parsing time %q", s)
	}
	return NewClockTime(t.Hour(), t.Minute(), t.Second()), nil
}

func (c ClockTime) String() string {
	if c.IsZero() {
		return ""
	}
	return c.Format(core.ClockLayout)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	if c.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*c = ClockTime{}
		return nil
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c ClockTime) Value() (driver.Value, error) {
	if c.IsZero() {
		return nil, nil
	}
	return c.String(), nil
}

func (c *ClockTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = ClockTime{}
	case time.Time:
		*c = ClockOf(v)
	case []byte:
		return c.scanString(string(v))
	case string:
		return c.scanString(v)
	default:
		return fmt.Errorf("attendance.ClockTime: cannot scan %T", src)
	}
	return nil
}

func (c *ClockTime) scanString(s string) error {
	if len(s) > len(core.ClockLayout) {
		s = s[:len(core.ClockLayout)] // drop fractional seconds
	}
	parsed, err := ParseClockTime(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

type (
	// SessionKey identifies one student in one session of one course.
	// Only CourseID, SessionDate, SessionType and StudentID take part in uniqueness,
	// the SIS identifiers and course name are carried along for reporting.
	SessionKey struct {
		CourseID     string
		CourseSISID  string
		CourseName   string
		SessionDate  Date
		SessionType  SessionType
		StudentID    string
		StudentSISID string
	}

	// Actor is whoever marks attendance.
	Actor struct {
		ID    string
		SISID string
		Name  string
	}

	Mark struct {
		Key        SessionKey
		Status     Status
		Actor      Actor
		MarkedTime ClockTime
	}

	Record struct {
		ID             int64       `json:"id"`
		CourseID       string      `json:"course_id"`
		CourseSISID    string      `json:"course_sis_id,omitempty"`
		CourseName     string      `json:"course_name,omitempty"`
		SessionDate    Date        `json:"session_date"`
		SessionType    SessionType `json:"session_type"`
		StudentID      string      `json:"student_id"`
		StudentSISID   string      `json:"student_sis_id,omitempty"`
		Status         Status      `json:"status"`
		MarkedTime     ClockTime   `json:"marked_time"`
		MarkedAt       time.Time   `json:"marked_at"`
		MarkedBy       string      `json:"marked_by"`
		MarkedBySISID  string      `json:"marked_by_sis_id,omitempty"`
		InstructorName string      `json:"instructor_name,omitempty"`
	}

	AuditEntry struct {
		ID             int64       `json:"-"`
		SessionID      int64       `json:"-"`
		StudentID      string      `json:"-"`
		StudentSISID   string      `json:"student_sis_id"`
		CourseSISID    string      `json:"course_sis_id"`
		SessionType    SessionType `json:"session_type"`
		OldStatus      *Status     `json:"old_status"`
		NewStatus      Status      `json:"new_status"`
		ChangedBy      string      `json:"-"`
		ChangedBySISID string      `json:"changed_by_sis_id"`
		ClassDate      Date        `json:"class_date"`
		MarkedTime     ClockTime   `json:"marked_time"`
		ChangedAt      time.Time   `json:"changed_at"`
		ChangeType     ChangeType  `json:"change_type"`
	}

	Stats struct {
		Total   int `json:"total"`
		Present int `json:"present"`
		Absent  int `json:"absent"`
		Late    int `json:"late"`
		Excused int `json:"excused"`
	}

	StudentHistory struct {
		Records []Record `json:"records"`
		Stats   Stats    `json:"stats"`
	}

	// AuditFilter selects audit entries either by course and class date or by student.
	AuditFilter struct {
		CourseSISID  string
		ClassDate    Date
		StudentSISID string
	}

	// ExportFilter bounds an export. A nil DateTo means today, a nil DateFrom means unbounded.
	ExportFilter struct {
		CourseID string
		DateFrom *Date
		DateTo   *Date
	}

	// ExportRow is one line of the SIS attendance upload.
	ExportRow struct {
		CourseSISID  string
		StudentSISID string
		Status       Status
		ClassDate    Date
		TeacherSISID string
		CourseCode   string
		TeacherName  string
	}

	BatchResult struct {
		StudentID string
		WasUpdate bool
		Err       error
	}
)

// Key returns the uniqueness key of the record.
func (r Record) Key() SessionKey {
	return SessionKey{
		CourseID:     r.CourseID,
		CourseSISID:  r.CourseSISID,
		CourseName:   r.CourseName,
		SessionDate:  r.SessionDate,
		SessionType:  r.SessionType,
		StudentID:    r.StudentID,
		StudentSISID: r.StudentSISID,
	}
}

// Count adds one record to the stats.
func (s *Stats) Count(status Status) {
	s.Total++
	switch status {
	case StatusPresent:
		s.Present++
	case StatusAbsent:
		s.Absent++
	case StatusLate:
		s.Late++
	case StatusExcused:
		s.Excused++
	}
}

// ByCourseDate reports whether the filter uses the course + class date shape.
func (f AuditFilter) ByCourseDate() bool {
	return f.CourseSISID != "" && !f.ClassDate.IsZero()
}

// ByStudent reports whether the filter uses the student shape.
func (f AuditFilter) ByStudent() bool {
	return f.StudentSISID != ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewExportRow applies the identifier fallbacks of the SIS upload to a stored record.
func NewExportRow(r Record) ExportRow {
	return ExportRow{
		CourseSISID:  firstNonEmpty(r.CourseSISID, r.CourseID),
		StudentSISID: firstNonEmpty(r.StudentSISID, r.StudentID),
		Status:       r.Status,
		ClassDate:    r.SessionDate,
		TeacherSISID: firstNonEmpty(r.MarkedBySISID, r.MarkedBy),
		CourseCode:   firstNonEmpty(r.CourseName, r.CourseSISID, r.CourseID),
		TeacherName:  firstNonEmpty(r.InstructorName, r.MarkedBySISID, r.MarkedBy),
	}
}
