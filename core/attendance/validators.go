package attendance

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
)

var (
	auditShapeTag  = "auditshape"
	auditShapeText = "provide either course_sis_id and date, or student_sis_id"
)

// InitValidators registers the ledger validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	validate.RegisterStructValidation(auditRequestStructValidation, AuditRequest{})
	core.RegisterCustomTranslation(validate, translator, auditShapeTag, auditShapeText)
}

func auditRequestStructValidation(sl validator.StructLevel) {
	ar := sl.Current().Interface().(AuditRequest)

	byCourse := ar.CourseSISID != "" || ar.Date != ""
	byStudent := ar.StudentSISID != ""
	switch {
	case byCourse && byStudent:
		sl.ReportError(ar.StudentSISID, "student_sis_id", "StudentSISID", auditShapeTag, "")
	case byCourse:
		if ar.CourseSISID == "" {
			sl.ReportError(ar.CourseSISID, "course_sis_id", "CourseSISID", auditShapeTag, "")
		}
		if ar.Date == "" {
			sl.ReportError(ar.Date, "date", "Date", auditShapeTag, "")
		}
	case !byStudent:
		sl.ReportError(ar.StudentSISID, "student_sis_id", "StudentSISID", auditShapeTag, "")
	}
}

// checkAuditFilter enforces the two supported audit shapes for callers that bypass the request DTO.
func checkAuditFilter(f AuditFilter) error {
	byCourse := f.CourseSISID != "" || !f.ClassDate.IsZero()
	switch {
	case byCourse && f.ByStudent():
		return core.NewValidationError(errAuditShape)
	case byCourse && !f.ByCourseDate():
		return core.NewValidationError(errAuditShape)
	case !byCourse && !f.ByStudent():
		return core.NewValidationError(errAuditShape)
	}
	return nil
}
