package echoapi

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
)

const (
	mimeCSV  = "text/csv; charset=utf-8"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type (
	MarkResponse struct {
		Success   bool `json:"success"`
		WasUpdate bool `json:"wasUpdate"`
	}

	BatchItemResponse struct {
		StudentID string `json:"student_id"`
		Success   bool   `json:"success"`
		WasUpdate bool   `json:"wasUpdate"`
		Error     string `json:"error,omitempty"`
	}

	BatchResponse struct {
		Results []BatchItemResponse `json:"results"`
	}

	SessionResponse struct {
		Records []attendance.Record `json:"records"`
	}

	AuditResponse struct {
		AuditRecords []attendance.AuditEntry `json:"audit_records"`
		Count        int                     `json:"count"`
	}
)

type attendanceApi struct {
	svc      attendance.Service
	validate *validator.Validate
}

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc attendance.Service, validate *validator.Validate) {
	api := attendanceApi{svc: svc, validate: validate}

	ag := g.Group("/attendance", jwt)
	ag.POST("/mark", api.mark, instructorMiddleware())
	ag.POST("/mark-batch", api.markBatch, instructorMiddleware())
	ag.POST("/get", api.getSession, instructorMiddleware())
	ag.POST("/student", api.studentHistory)
	ag.GET("/audit", api.auditTrail)
	ag.GET("/export", api.export, instructorMiddleware())
}

// fillActor defaults the marking instructor to the session user.
func fillActor(mr *attendance.MarkRequest, claims Claims) {
	if mr.InstructorID == "" {
		mr.InstructorID = claims.Subject
		if mr.InstructorSISID == "" {
			mr.InstructorSISID = claims.UserSISID
		}
		if mr.InstructorName == "" {
			mr.InstructorName = claims.Name
		}
	}
}

// Handlers

func (api *attendanceApi) mark(ctx echo.Context) error {
	var data attendance.MarkRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkRequest")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	fillActor(&data, claims)
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if !claims.InCourse(data.CourseID) {
		return errHttpForbidden
	}

	m, err := data.Mark()
	if err != nil {
		return err
	}
	wasUpdate, err := api.svc.Mark(ctx.Request().Context(), m)
	if err != nil {
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, MarkResponse{Success: true, WasUpdate: wasUpdate})
}

func (api *attendanceApi) markBatch(ctx echo.Context) error {
	var data attendance.MarkBatchRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to MarkBatchRequest")
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	for i := range data.Marks {
		fillActor(&data.Marks[i], claims)
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	for _, mr := range data.Marks {
		if !claims.InCourse(mr.CourseID) {
			return errHttpForbidden
		}
	}

	marks, err := data.ToMarks()
	if err != nil {
		return err
	}
	results := api.svc.MarkBatch(ctx.Request().Context(), marks)

	resp := BatchResponse{Results: make([]BatchItemResponse, 0, len(results))}
	for _, res := range results {
		item := BatchItemResponse{StudentID: res.StudentID, Success: res.Err == nil, WasUpdate: res.WasUpdate}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		resp.Results = append(resp.Results, item)
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *attendanceApi) getSession(ctx echo.Context) error {
	var data attendance.SessionRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SessionRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !claims.InCourse(data.CourseID) {
		return errHttpForbidden
	}

	date, err := attendance.ParseDate(data.Date)
	if err != nil {
		return errors.Wrap(err, "parsing date")
	}
	recs, err := api.svc.GetSession(ctx.Request().Context(), data.CourseID, date, attendance.SessionType(data.SessionType))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	return ctx.JSON(http.StatusOK, SessionResponse{Records: recs})
}

func (api *attendanceApi) studentHistory(ctx echo.Context) error {
	var data attendance.HistoryRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to HistoryRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	allowed := claims.IsStudent(data.StudentSISID) || (claims.IsInstructor() && claims.InSISCourse(data.CourseSISID))
	if !allowed {
		return errHttpForbidden
	}

	history, err := api.svc.GetStudentHistory(ctx.Request().Context(), data.CourseSISID, data.StudentSISID)
	if err != nil {
		return errors.Wrap(err, "getting student history")
	}
	return ctx.JSON(http.StatusOK, history)
}

func (api *attendanceApi) auditTrail(ctx echo.Context) error {
	var data attendance.AuditRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to AuditRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	allowed := claims.IsStudent(data.StudentSISID) ||
		(claims.IsInstructor() && (data.CourseSISID == "" || claims.InSISCourse(data.CourseSISID)))
	if !allowed {
		return errHttpForbidden
	}

	filter, err := data.Filter()
	if err != nil {
		return err
	}
	entries, err := api.svc.GetAuditTrail(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "getting audit trail")
	}
	if entries == nil {
		entries = []attendance.AuditEntry{}
	}
	return ctx.JSON(http.StatusOK, AuditResponse{AuditRecords: entries, Count: len(entries)})
}

func (api *attendanceApi) export(ctx echo.Context) error {
	var data attendance.ExportRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExportRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !claims.InCourse(data.CourseID) {
		return errHttpForbidden
	}

	filter, err := data.Filter()
	if err != nil {
		return err
	}
	rows, err := api.svc.Export(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "exporting attendance")
	}

	var buf bytes.Buffer
	contentType := mimeCSV
	if data.Format == attendance.FormatXLSX {
		contentType = mimeXLSX
		err = attendance.WriteXLSX(&buf, rows)
	} else {
		err = attendance.WriteCSV(&buf, rows)
	}
	if err != nil {
		return errors.Wrap(err, "writing export")
	}

	filename := attendance.ExportFilename(filter, data.Format)
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, contentType, buf.Bytes())
}
