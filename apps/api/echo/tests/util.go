package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	echoapi "github.com/sghajdao/Canvas-Attendance-lti/apps/api/echo"
	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
	"github.com/sghajdao/Canvas-Attendance-lti/core/roster"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
	inmemdb "github.com/sghajdao/Canvas-Attendance-lti/storage/database/inmem"
	"github.com/sghajdao/Canvas-Attendance-lti/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errForbidden    = httpErr{Error: "permission denied"}

	instructor = echoapi.Session{
		UserID:      "I1",
		UserSISID:   "SIS-I1",
		CourseID:    "C1",
		CourseSISID: "SIS-C1",
		Name:        "Dr. Smith",
		Roles:       []string{echoapi.RoleInstructor},
	}
	student = echoapi.Session{
		UserID:      "S1",
		UserSISID:   "SIS-S1",
		CourseID:    "C1",
		CourseSISID: "SIS-C1",
		Name:        "Ahmed Hassan",
		Roles:       []string{echoapi.RoleStudent},
	}
)

// fakeSource stands in for the Canvas OAuth endpoint.
type fakeSource struct {
	mu    sync.Mutex
	token vault.Token
	err   error
	codes []string
}

func (fs *fakeSource) AuthCodeURL(state string) string {
	return "https://canvas.test/login/oauth2/auth?state=" + url.QueryEscape(state)
}

func (fs *fakeSource) Exchange(_ context.Context, code string) (vault.Token, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.codes = append(fs.codes, code)
	return fs.token, fs.err
}

func (fs *fakeSource) Refresh(context.Context, string) (vault.Token, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.token, fs.err
}

// fakeCanvas stands in for the Canvas REST API.
type fakeCanvas struct {
	enrollments []roster.Enrollment
	sections    []roster.Section
	err         error
	tokens      []string
}

func (fc *fakeCanvas) Enrollments(_ context.Context, token, _ string) ([]roster.Enrollment, error) {
	fc.tokens = append(fc.tokens, token)
	return fc.enrollments, fc.err
}

func (fc *fakeCanvas) Sections(context.Context, string, string) ([]roster.Section, error) {
	return fc.sections, nil
}

type testEnv struct {
	conf     *core.Config
	app      *echoapi.Server
	vaultSvc vault.Service
	source   *fakeSource
	canvas   *fakeCanvas
}

func setup(t *testing.T) *testEnv {
	conf := testutil.NewConfig()
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.DisableReqLogs = true
	logger := testutil.NewLogger(t)

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)

	// set up DB & repos
	db := inmemdb.Open()

	// set up services
	env := &testEnv{
		conf:   conf,
		source: &fakeSource{token: vault.Token{AccessToken: "canvas-access", RefreshToken: "canvas-refresh", ExpiresIn: 3600}},
		canvas: new(fakeCanvas),
	}
	env.vaultSvc = vault.NewService(conf, inmemdb.NewTokenRepository(db), env.source, logger)
	rosterSvc := roster.NewService(env.canvas, env.vaultSvc, nil, logger)
	attSvc := attendance.NewService(conf, inmemdb.NewAttendanceRepository(db), logger)

	// set up server
	env.app = echoapi.NewServer(conf, &echoapi.Deps{
		Logger:        logger,
		Validate:      validate,
		Translator:    translator,
		AttendanceSvc: attSvc,
		VaultSvc:      env.vaultSvc,
		RosterSvc:     rosterSvc,
	})
	return env
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func (env *testEnv) getToken(t *testing.T, s echoapi.Session) string {
	token, err := echoapi.GenerateToken(echoapi.NewClaims(env.conf, s), env.conf.SecretKey)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func (env *testEnv) do(tt httpTest) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	env.app.ServeHTTP(rec, req)
	return rec
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	assert.Equal(t, tt.wantCode, rec.Code, "code")
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, env *testEnv, tests []httpTest) {
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.do(tt))
		})
	}
}
