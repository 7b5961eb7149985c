package tests

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/sghajdao/Canvas-Attendance-lti/apps/api/echo"
	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
)

func markBody(t *testing.T, studentID, studentSIS, status, date string) []byte {
	return marchallObj(t, attendance.MarkRequest{
		CourseID:     "C1",
		CourseSISID:  "SIS-C1",
		CourseName:   "CSC 3326",
		StudentID:    studentID,
		StudentSISID: studentSIS,
		Status:       status,
		Date:         date,
		SessionType:  "morning",
		MarkedTime:   "09:05:00",
	})
}

func Test_attendanceApi_mark(t *testing.T) {
	env := setup(t)
	token := env.getToken(t, instructor)

	otherCourse := instructor
	otherCourse.CourseID = "C2"

	tests := []httpTest{
		{
			name: "Auth required", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "S1", "SIS-S1", "present", "2024-03-01"),
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "Instructor required", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "S1", "SIS-S1", "present", "2024-03-01"), token: env.getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Own course only", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "S1", "SIS-S1", "present", "2024-03-01"), token: env.getToken(t, otherCourse),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Invalid status", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "S1", "SIS-S1", "sick", "2024-03-01"), token: token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"status": "status must be one of [present absent late excused]"}),
		},
		{
			name: "Invalid date", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "S1", "SIS-S1", "present", "01/03/2024"), token: token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"date": "date must be a date formatted as YYYY-MM-DD"}),
		},
		{
			name: "Missing student", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "", "", "present", "2024-03-01"), token: token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"student_id": "this field is required"}),
		},
		{
			name: "Initial mark", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "S1", "SIS-S1", "present", "2024-03-01"), token: token,
			wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.MarkResponse{Success: true, WasUpdate: false}),
		},
		{
			name: "Re-mark", method: http.MethodPost, path: "/api/attendance/mark",
			body: markBody(t, "S1", "SIS-S1", "Late ", "2024-03-01"), token: token,
			wantCode: http.StatusOK, wantData: marchallObj(t, echoapi.MarkResponse{Success: true, WasUpdate: true}),
		},
	}
	runHTTPTests(t, env, tests)

	// the session reflects the latest mark, attributed to the session instructor
	rec := env.do(httpTest{
		method: http.MethodPost, path: "/api/attendance/get", token: token,
		body: marchallObj(t, attendance.SessionRequest{CourseID: "C1", Date: "2024-03-01"}),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp echoapi.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if assert.Len(t, resp.Records, 1) {
		got := resp.Records[0]
		assert.Equal(t, "S1", got.StudentID)
		assert.Equal(t, attendance.StatusLate, got.Status)
		assert.Equal(t, "09:05:00", got.MarkedTime.String())
		assert.Equal(t, "I1", got.MarkedBy)
		assert.Equal(t, "SIS-I1", got.MarkedBySISID)
		assert.Equal(t, "Dr. Smith", got.InstructorName)
	}
}

func Test_attendanceApi_markBatch(t *testing.T) {
	env := setup(t)
	token := env.getToken(t, instructor)

	var first attendance.MarkRequest
	require.NoError(t, json.Unmarshal(markBody(t, "S1", "SIS-S1", "present", "2024-03-01"), &first))
	rec := env.do(httpTest{method: http.MethodPost, path: "/api/attendance/mark", token: token, body: marchallObj(t, first)})
	require.Equal(t, http.StatusOK, rec.Code)

	marks := make([]attendance.MarkRequest, 0, 3)
	for _, id := range []string{"S1", "S2", "S3"} {
		var mr attendance.MarkRequest
		require.NoError(t, json.Unmarshal(markBody(t, id, "SIS-"+id, "absent", "2024-03-01"), &mr))
		marks = append(marks, mr)
	}

	tests := []httpTest{
		{
			name: "Empty batch", method: http.MethodPost, path: "/api/attendance/mark-batch", token: token,
			body:     marchallObj(t, attendance.MarkBatchRequest{Marks: []attendance.MarkRequest{}}),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "Mark all absent", method: http.MethodPost, path: "/api/attendance/mark-batch", token: token,
			body:     marchallObj(t, attendance.MarkBatchRequest{Marks: marks}),
			wantCode: http.StatusOK,
			wantData: marchallObj(t, echoapi.BatchResponse{Results: []echoapi.BatchItemResponse{
				{StudentID: "S1", Success: true, WasUpdate: true},
				{StudentID: "S2", Success: true, WasUpdate: false},
				{StudentID: "S3", Success: true, WasUpdate: false},
			}}),
		},
	}
	runHTTPTests(t, env, tests)
}

func Test_attendanceApi_studentHistory(t *testing.T) {
	env := setup(t)
	token := env.getToken(t, instructor)

	for _, d := range []struct{ status, date string }{{"present", "2024-03-01"}, {"late", "2024-03-04"}, {"absent", "2024-03-05"}} {
		rec := env.do(httpTest{
			method: http.MethodPost, path: "/api/attendance/mark", token: token,
			body: markBody(t, "S1", "SIS-S1", d.status, d.date),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	other := student
	other.UserID, other.UserSISID = "S2", "SIS-S2"
	history := func(studentSIS string) []byte {
		return marchallObj(t, attendance.HistoryRequest{CourseSISID: "SIS-C1", StudentSISID: studentSIS})
	}

	tests := []httpTest{
		{
			name: "Other student", method: http.MethodPost, path: "/api/attendance/student",
			body: history("SIS-S1"), token: env.getToken(t, other),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Missing student", method: http.MethodPost, path: "/api/attendance/student",
			body: history(""), token: token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"student_sis_id": "this field is required"}),
		},
		{name: "Self", method: http.MethodPost, path: "/api/attendance/student", body: history("SIS-S1"), token: env.getToken(t, student), wantCode: http.StatusOK},
		{name: "Instructor", method: http.MethodPost, path: "/api/attendance/student", body: history("SIS-S1"), token: token, wantCode: http.StatusOK},
	}
	runHTTPTests(t, env, tests)

	rec := env.do(httpTest{method: http.MethodPost, path: "/api/attendance/student", body: history("SIS-S1"), token: token})
	var got attendance.StudentHistory
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, attendance.Stats{Total: 3, Present: 1, Absent: 1, Late: 1}, got.Stats)
	if assert.Len(t, got.Records, 3) {
		assert.Equal(t, "2024-03-05", got.Records[0].SessionDate.String(), "newest first")
	}
}

func Test_attendanceApi_auditTrail(t *testing.T) {
	env := setup(t)
	token := env.getToken(t, instructor)

	for _, status := range []string{"present", "late"} {
		rec := env.do(httpTest{
			method: http.MethodPost, path: "/api/attendance/mark", token: token,
			body: markBody(t, "S1", "SIS-S1", status, "2024-03-01"),
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	path := func(courseSIS, date, studentSIS string) string {
		v := make(url.Values)
		if courseSIS != "" {
			v.Set("course_sis_id", courseSIS)
		}
		if date != "" {
			v.Set("date", date)
		}
		if studentSIS != "" {
			v.Set("student_sis_id", studentSIS)
		}
		return "/api/attendance/audit?" + v.Encode()
	}
	shapeErr := marchallObj(t, map[string]string{
		"student_sis_id": "provide either course_sis_id and date, or student_sis_id",
	})

	tests := []httpTest{
		{name: "Auth required", path: path("", "", "SIS-S1"), wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "No filter", path: path("", "", ""), token: token, wantCode: http.StatusBadRequest, wantData: shapeErr},
		{name: "Both filters", path: path("SIS-C1", "2024-03-01", "SIS-S1"), token: token, wantCode: http.StatusBadRequest, wantData: shapeErr},
		{
			name: "Course without date", path: path("SIS-C1", "", ""), token: token, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"date": "provide either course_sis_id and date, or student_sis_id"}),
		},
		{
			name: "Student reads another student", path: path("", "", "SIS-S2"), token: env.getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "Student reads course", path: path("SIS-C1", "2024-03-01", ""), token: env.getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{name: "Student reads own", path: path("", "", "SIS-S1"), token: env.getToken(t, student), wantCode: http.StatusOK},
		{name: "Instructor reads course", path: path("SIS-C1", "2024-03-01", ""), token: token, wantCode: http.StatusOK},
	}
	runHTTPTests(t, env, tests)

	rec := env.do(httpTest{path: path("SIS-C1", "2024-03-01", ""), token: token})
	var resp struct {
		AuditRecords []struct {
			OldStatus  *string `json:"old_status"`
			NewStatus  string  `json:"new_status"`
			ChangeType string  `json:"change_type"`
			ClassDate  string  `json:"class_date"`
		} `json:"audit_records"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	if assert.NotNil(t, resp.AuditRecords[0].OldStatus) {
		assert.Equal(t, "present", *resp.AuditRecords[0].OldStatus)
	}
	assert.Equal(t, "late", resp.AuditRecords[0].NewStatus)
	assert.Equal(t, "update", resp.AuditRecords[0].ChangeType)
	assert.Nil(t, resp.AuditRecords[1].OldStatus)
	assert.Equal(t, "initial", resp.AuditRecords[1].ChangeType)
	assert.Equal(t, "2024-03-01", resp.AuditRecords[1].ClassDate)
}

func Test_attendanceApi_export(t *testing.T) {
	env := setup(t)
	token := env.getToken(t, instructor)

	for _, m := range []struct{ id, sis, status, date string }{
		{"S2", "SIS-S2", "absent", "2024-03-01"},
		{"S1", "SIS-S1", "present", "2024-03-01"},
		{"S1", "SIS-S1", "late", "2024-02-20"},
		{"S3", "", "present", "2024-03-01"}, // no SIS id: not exported
	} {
		rec := env.do(httpTest{method: http.MethodPost, path: "/api/attendance/mark", token: token, body: markBody(t, m.id, m.sis, m.status, m.date)})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	t.Run("CSV", func(t *testing.T) {
		rec := env.do(httpTest{path: "/api/attendance/export?course_id=C1&date_from=2024-03-01&date_to=2024-03-31", token: token})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `attachment; filename="attendance_C1_2024-03-01.csv"`, rec.Header().Get("Content-Disposition"))
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv"))

		lines, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			attendance.ExportHeader,
			{"SIS-C1", "SIS-S1", "present", "2024-03-01", "SIS-I1", "CSC 3326", "Dr. Smith"},
			{"SIS-C1", "SIS-S2", "absent", "2024-03-01", "SIS-I1", "CSC 3326", "Dr. Smith"},
		}, lines)
	})

	t.Run("Unbounded start", func(t *testing.T) {
		rec := env.do(httpTest{path: "/api/attendance/export?course_id=C1&date_to=2024-03-31", token: token})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `attachment; filename="attendance_C1_all.csv"`, rec.Header().Get("Content-Disposition"))
		lines, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, lines, 4)
	})

	t.Run("XLSX", func(t *testing.T) {
		rec := env.do(httpTest{path: "/api/attendance/export?course_id=C1&format=xlsx", token: token})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, `attachment; filename="attendance_C1_all.xlsx"`, rec.Header().Get("Content-Disposition"))
		assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"), "xlsx is a zip archive")
	})

	tests := []httpTest{
		{
			name: "Inverted range", path: "/api/attendance/export?course_id=C1&date_from=2024-04-01&date_to=2024-03-01", token: token,
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"date_from": "date_from must not be after date_to"}),
		},
		{
			name: "Missing course", path: "/api/attendance/export", token: token,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"course_id": "this field is required"}),
		},
		{
			name: "Unknown format", path: "/api/attendance/export?course_id=C1&format=pdf", token: token,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"format": "format must be one of [csv xlsx]"}),
		},
	}
	runHTTPTests(t, env, tests)
}
