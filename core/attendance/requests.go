package attendance

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
)

type (
	MarkRequest struct {
		CourseID        string `json:"course_id" validate:"required"`
		CourseSISID     string `json:"course_sis_id"`
		CourseName      string `json:"course_name"`
		StudentID       string `json:"student_id" validate:"required"`
		StudentSISID    string `json:"student_sis_id"`
		Status          string `json:"status" validate:"required,oneof=present absent late excused"`
		Date            string `json:"date" validate:"required,isodate"`
		SessionType     string `json:"session_type" validate:"omitempty,oneof=morning evening"`
		InstructorID    string `json:"instructor_id" validate:"required"`
		InstructorSISID string `json:"instructor_sis_id"`
		InstructorName  string `json:"instructor_name"`
		MarkedTime      string `json:"marked_time" validate:"omitempty,clocktime"`
	}

	// MarkBatchRequest marks a whole session in one call ("mark all present").
	MarkBatchRequest struct {
		Marks []MarkRequest `json:"marks" validate:"required,min=1,max=500,dive"`
	}

	SessionRequest struct {
		CourseID    string `json:"course_id" validate:"required"`
		Date        string `json:"date" validate:"required,isodate"`
		SessionType string `json:"session_type" validate:"omitempty,oneof=morning evening"`
	}

	HistoryRequest struct {
		CourseSISID  string `json:"course_sis_id" validate:"required"`
		StudentSISID string `json:"student_sis_id" validate:"required"`
	}

	AuditRequest struct {
		CourseSISID  string `query:"course_sis_id" json:"course_sis_id"`
		Date         string `query:"date" json:"date" validate:"omitempty,isodate"`
		StudentSISID string `query:"student_sis_id" json:"student_sis_id"`
	}

	ExportRequest struct {
		CourseID string `query:"course_id" json:"course_id" validate:"required"`
		DateFrom string `query:"date_from" json:"date_from" validate:"omitempty,isodate"`
		DateTo   string `query:"date_to" json:"date_to" validate:"omitempty,isodate"`
		Format   string `query:"format" json:"format" validate:"omitempty,oneof=csv xlsx"`
	}
)

func (mr *MarkRequest) clean() {
	mr.CourseID = core.CleanString(mr.CourseID)
	mr.CourseSISID = core.CleanString(mr.CourseSISID)
	mr.CourseName = core.CleanString(mr.CourseName)
	mr.StudentID = core.CleanString(mr.StudentID)
	mr.StudentSISID = core.CleanString(mr.StudentSISID)
	mr.Status = core.CleanString(mr.Status, true /* lower */)
	mr.Date = core.CleanString(mr.Date)
	mr.SessionType = core.CleanString(mr.SessionType, true /* lower */)
	mr.InstructorID = core.CleanString(mr.InstructorID)
	mr.InstructorSISID = core.CleanString(mr.InstructorSISID)
	mr.InstructorName = core.CleanString(mr.InstructorName)
	mr.MarkedTime = core.CleanString(mr.MarkedTime)
}

func (mr *MarkRequest) Validate(validate *validator.Validate) error {
	mr.clean()
	return validate.Struct(mr)
}

// Mark converts a validated request. An empty marked_time is left for the service to stamp.
func (mr MarkRequest) Mark() (Mark, error) {
	date, err := ParseDate(mr.Date)
	if err != nil {
		return Mark{}, core.NewValidationError(err, core.FieldError{Field: "date", Error: err.Error()})
	}
	var markedTime ClockTime
	if mr.MarkedTime != "" {
		if markedTime, err = ParseClockTime(mr.MarkedTime); err != nil {
			return Mark{}, core.NewValidationError(err, core.FieldError{Field: "marked_time", Error: err.Error()})
		}
	}
	return Mark{
		Key: SessionKey{
			CourseID:     mr.CourseID,
			CourseSISID:  mr.CourseSISID,
			CourseName:   mr.CourseName,
			SessionDate:  date,
			SessionType:  SessionType(mr.SessionType).OrDefault(),
			StudentID:    mr.StudentID,
			StudentSISID: mr.StudentSISID,
		},
		Status: Status(mr.Status),
		Actor: Actor{
			ID:    mr.InstructorID,
			SISID: mr.InstructorSISID,
			Name:  mr.InstructorName,
		},
		MarkedTime: markedTime,
	}, nil
}

func (br *MarkBatchRequest) Validate(validate *validator.Validate) error {
	for i := range br.Marks {
		br.Marks[i].clean()
	}
	return validate.Struct(br)
}

func (br MarkBatchRequest) ToMarks() ([]Mark, error) {
	marks := make([]Mark, 0, len(br.Marks))
	for _, mr := range br.Marks {
		m, err := mr.Mark()
		if err != nil {
			return nil, errors.Wrapf(err, "converting mark for student %q", mr.StudentID)
		}
		marks = append(marks, m)
	}
	return marks, nil
}

func (sr *SessionRequest) Validate(validate *validator.Validate) error {
	sr.CourseID = core.CleanString(sr.CourseID)
	sr.Date = core.CleanString(sr.Date)
	sr.SessionType = core.CleanString(sr.SessionType, true /* lower */)
	return validate.Struct(sr)
}

func (hr *HistoryRequest) Validate(validate *validator.Validate) error {
	hr.CourseSISID = core.CleanString(hr.CourseSISID)
	hr.StudentSISID = core.CleanString(hr.StudentSISID)
	return validate.Struct(hr)
}

func (ar *AuditRequest) Validate(validate *validator.Validate) error {
	ar.CourseSISID = core.CleanString(ar.CourseSISID)
	ar.Date = core.CleanString(ar.Date)
	ar.StudentSISID = core.CleanString(ar.StudentSISID)
	return validate.Struct(ar)
}

// Filter converts a validated request; the shape itself is checked by the service.
func (ar AuditRequest) Filter() (AuditFilter, error) {
	f := AuditFilter{CourseSISID: ar.CourseSISID, StudentSISID: ar.StudentSISID}
	if ar.Date != "" {
		d, err := ParseDate(ar.Date)
		if err != nil {
			return AuditFilter{}, core.NewValidationError(err, core.FieldError{Field: "date", Error: err.Error()})
		}
		f.ClassDate = d
	}
	return f, nil
}

func (er *ExportRequest) Validate(validate *validator.Validate) error {
	er.CourseID = core.CleanString(er.CourseID)
	er.DateFrom = core.CleanString(er.DateFrom)
	er.DateTo = core.CleanString(er.DateTo)
	er.Format = core.CleanString(er.Format, true /* lower */)
	return validate.Struct(er)
}

func (er ExportRequest) Filter() (ExportFilter, error) {
	f := ExportFilter{CourseID: er.CourseID}
	for _, b := range []struct {
		field string
		val   string
		dst   **Date
	}{
		{"date_from", er.DateFrom, &f.DateFrom},
		{"date_to", er.DateTo, &f.DateTo},
	} {
		if b.val == "" {
			continue
		}
		d, err := ParseDate(b.val)
		if err != nil {
			return ExportFilter{}, core.NewValidationError(err, core.FieldError{Field: b.field, Error: err.Error()})
		}
		*b.dst = &d
	}
	return f, nil
}
