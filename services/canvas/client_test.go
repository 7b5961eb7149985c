package canvassvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sghajdao/Canvas-Attendance-lti/core/roster"
	"github.com/sghajdao/Canvas-Attendance-lti/tests"
)

const enrollmentsJSON = `[
	{"id": 1, "user_id": 7, "course_id": 4821, "type": "StudentEnrollment", "enrollment_state": "active",
	 "user": {"id": 7, "name": "Ahmed Hassan", "sortable_name": "Hassan, Ahmed", "sis_user_id": "SIS-S1", "login_id": "a.hassan@aui.ma"}},
	{"id": 2, "user_id": 9, "course_id": 4821, "type": "TeacherEnrollment", "enrollment_state": "active",
	 "user": {"id": 9, "name": "Dr. Smith"}}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := testutil.NewConfig()
	conf.Canvas.BaseURL = srv.URL + "/"
	conf.Canvas.Timeout = 2 * time.Second
	return NewClient(conf)
}

func TestClient_Enrollments(t *testing.T) {
	var got *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(enrollmentsJSON))
	})

	enrollments, err := client.Enrollments(context.Background(), "live-token", "4821")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/courses/4821/enrollments", got.URL.Path)
	assert.Equal(t, "Bearer live-token", got.Header.Get("Authorization"))
	assert.Equal(t, "100", got.URL.Query().Get("per_page"))
	assert.Equal(t, "user", got.URL.Query().Get("include[]"))

	require.Len(t, enrollments, 2)
	assert.Equal(t, int64(7), enrollments[0].UserID)
	assert.Equal(t, roster.EnrollmentStudent, enrollments[0].Type)
	if assert.NotNil(t, enrollments[0].User) {
		assert.Equal(t, "SIS-S1", enrollments[0].User.SISUserID)
	}
}

func TestClient_Sections(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/courses/4821/sections", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id": 3, "name": "Section 01", "course_id": 4821, "sis_section_id": "S01"}]`))
	})

	sections, err := client.Sections(context.Background(), "live-token", "4821")
	require.NoError(t, err)
	assert.Equal(t, []roster.Section{{ID: 3, Name: "Section 01", CourseID: 4821, SISSectionID: "S01"}}, sections)
}

func TestClient_errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		check   func(t *testing.T, err error)
	}{
		{name: "Unauthorized", status: http.StatusUnauthorized, wantErr: roster.ErrUnauthorized},
		{name: "Not found", status: http.StatusNotFound, wantErr: roster.ErrCourseNotFound},
		{
			name: "Forbidden", status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var upErr *roster.UpstreamError
				require.True(t, errors.As(err, &upErr))
				assert.Equal(t, http.StatusForbidden, upErr.StatusCode)
			},
		},
		{
			name: "Bad payload", status: http.StatusOK, body: `{"errors": []}`,
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "decoding GET /api/v1/courses/4821/enrollments")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.Enrollments(context.Background(), "token", "4821")
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			}
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestClient_timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	conf := testutil.NewConfig()
	conf.Canvas.BaseURL = srv.URL
	conf.Canvas.Timeout = 50 * time.Millisecond

	_, err := NewClient(conf).Enrollments(context.Background(), "token", "4821")
	assert.Error(t, err)
}
