package testutil

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/storage/database"
)

// DatabaseURLEnv names the postgres URL integration tests run against. They are skipped when it is unset.
const DatabaseURLEnv = "ATTENDANCE_TEST_DATABASE_URL"

// NewConfig returns a config good enough for every service under test.
func NewConfig() *core.Config {
	conf := &core.Config{
		AppName:       "Canvas Attendance",
		Env:           "test",
		TestMode:      true,
		SecretKey:     "test-secret-key",
		EncryptionKey: "test-encryption-key",
	}
	conf.Canvas.BaseURL = "https://canvas.test"
	conf.Canvas.ClientID = "client-id"
	conf.Canvas.ClientSecret = "client-secret"
	conf.Canvas.RedirectURL = "http://localhost:8000/api/auth/callback"
	conf.Canvas.TokenTTL = 0
	conf.Attendance.BatchConcurrency = 4
	return conf
}

// Logger records what the code under test logs.
type Logger struct {
	mu   sync.Mutex
	t    testing.TB
	Msgs []string
}

var _ core.Logger = (*Logger)(nil)

func NewLogger(t testing.TB) *Logger {
	return &Logger{t: t}
}

func (l *Logger) log(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := level + ": " + msg
	if len(args) > 0 {
		line += fmt.Sprintf(" %v", args)
	}
	l.Msgs = append(l.Msgs, line)
	l.t.Log(line)
}

// Lines returns a copy of what has been logged so far.
func (l *Logger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.Msgs...)
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log("DEBUG", msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log("INFO", msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log("WARN", msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log("ERROR", msg, args) }
func (l *Logger) Fatal(msg string, args ...interface{}) { l.log("FATAL", msg, args) }

// PrepareDB opens, migrates and empties the test database.
func PrepareDB(t *testing.T) *sqlx.DB {
	t.Helper()

	dsn := os.Getenv(DatabaseURLEnv)
	if dsn == "" {
		t.Skipf("%s not set", DatabaseURLEnv)
	}

	db, err := database.OpenURL(dsn)
	if err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err = database.Migrate(db); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	if _, err = db.Exec("TRUNCATE attendance_audit, attendance, canvas_tokens RESTART IDENTITY CASCADE"); err != nil {
		t.Fatalf("PrepareDB() failed: %v", err)
	}
	return db
}
