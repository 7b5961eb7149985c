package roster

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// Canvas enrollment types kept in a roster.
const (
	EnrollmentStudent = "StudentEnrollment"
	EnrollmentTA      = "TaEnrollment"
	EnrollmentTeacher = "TeacherEnrollment"

	RoleInstructor = "Instructor"
	RoleTA         = "Teaching Assistant"
	RoleStudent    = "Student"
)

var (
	ErrUnauthorized   = errors.New("canvas rejected the access token")
	ErrCourseNotFound = errors.New("canvas course not found")

	nrpsCourseRegex = regexp.MustCompile(`courses/(\d+)`)
	digitsRegex     = regexp.MustCompile(`\d+`)
)

// UpstreamError is any other non-2xx answer from Canvas.
type UpstreamError struct {
	StatusCode int
}

func (err *UpstreamError) Error() string {
	return fmt.Sprintf("canvas api request failed: %d", err.StatusCode)
}

type (
	// User is the `user` object Canvas embeds when include[]=user is requested.
	User struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		SortableName string `json:"sortable_name"`
		SISUserID    string `json:"sis_user_id"`
		LoginID      string `json:"login_id"`
		Email        string `json:"email"`
	}

	// Enrollment is one element of GET /api/v1/courses/:id/enrollments.
	Enrollment struct {
		ID                   int64  `json:"id"`
		UserID               int64  `json:"user_id"`
		CourseID             int64  `json:"course_id"`
		CourseSectionID      int64  `json:"course_section_id"`
		Type                 string `json:"type"`
		EnrollmentState      string `json:"enrollment_state"`
		SISUserID            string `json:"sis_user_id"`
		SectionIntegrationID string `json:"section_integration_id"`
		User                 *User  `json:"user"`
	}

	// Section is one element of GET /api/v1/courses/:id/sections.
	Section struct {
		ID           int64  `json:"id"`
		Name         string `json:"name"`
		CourseID     int64  `json:"course_id"`
		SISSectionID string `json:"sis_section_id,omitempty"`
		SISCourseID  string `json:"sis_course_id,omitempty"`
	}

	Member struct {
		UserID       string   `json:"user_id"`
		SISUserID    string   `json:"sis_user_id,omitempty"`
		Name         string   `json:"name"`
		Email        string   `json:"email"`
		Roles        []string `json:"roles"`
		Status       string   `json:"status"`
		SortableName string   `json:"sortable_name,omitempty"`
	}

	FetchRequest struct {
		CourseID string `json:"course_id" validate:"required"`
		UserID   string `json:"user_id" validate:"required"`
		NRPSURL  string `json:"nrps_url"`
	}

	Result struct {
		Members   []Member  `json:"members"`
		Sections  []Section `json:"sections,omitempty"`
		Message   string    `json:"message"`
		NeedsAuth bool      `json:"needsAuth,omitempty"`
		Success   bool      `json:"success,omitempty"`
		Error     string    `json:"error,omitempty"`
	}
)

// Kept reports whether the enrollment belongs in the roster.
func (e Enrollment) Kept() bool {
	switch e.Type {
	case EnrollmentStudent, EnrollmentTA, EnrollmentTeacher:
		return true
	}
	return false
}

// Member maps a kept enrollment to a roster member.
func (e Enrollment) Member() Member {
	m := Member{
		UserID: strconv.FormatInt(e.UserID, 10),
		Name:   "Unknown",
		Status: e.EnrollmentState,
	}
	if e.EnrollmentState == "active" {
		m.Status = "Active"
	}
	switch e.Type {
	case EnrollmentTeacher:
		m.Roles = []string{RoleInstructor}
	case EnrollmentTA:
		m.Roles = []string{RoleTA}
	default:
		m.Roles = []string{RoleStudent}
	}

	m.SISUserID = e.SISUserID
	if u := e.User; u != nil {
		if u.SISUserID != "" {
			m.SISUserID = u.SISUserID
		}
		if u.Name != "" {
			m.Name = u.Name
		}
		m.Email = u.Email
		if m.Email == "" {
			m.Email = u.LoginID
		}
		m.SortableName = u.SortableName
	}
	return m
}

// Members keeps the student, TA and teacher enrollments, in Canvas order.
func Members(enrollments []Enrollment) []Member {
	members := make([]Member, 0, len(enrollments))
	for _, e := range enrollments {
		if e.Kept() {
			members = append(members, e.Member())
		}
	}
	return members
}

// CanvasCourseID finds the numeric Canvas course id, first in the NRPS url, then in the LTI course id.
func CanvasCourseID(nrpsURL, courseID string) string {
	if nrpsURL != "" {
		if match := nrpsCourseRegex.FindStringSubmatch(nrpsURL); match != nil {
			return match[1]
		}
	}
	return digitsRegex.FindString(courseID)
}

// MockMembers is the placeholder roster shown when Canvas cannot be reached.
func MockMembers() []Member {
	active := "Active"
	return []Member{
		{UserID: "1001", Name: "Ahmed Hassan", Email: "ahmed.hassan@aui.ma", Roles: []string{RoleStudent}, Status: active},
		{UserID: "1002", Name: "Fatima El Amrani", Email: "fatima.elamrani@aui.ma", Roles: []string{RoleStudent}, Status: active},
		{UserID: "1003", Name: "Youssef Bennani", Email: "youssef.bennani@aui.ma", Roles: []string{RoleStudent}, Status: active},
		{UserID: "1004", Name: "Sara Mokhtar", Email: "sara.mokhtar@aui.ma", Roles: []string{RoleStudent}, Status: active},
		{UserID: "1005", Name: "Omar Tazi", Email: "omar.tazi@aui.ma", Roles: []string{RoleTA}, Status: active},
	}
}
