package attendance_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
	inmemdb "github.com/sghajdao/Canvas-Attendance-lti/storage/database/inmem"
	"github.com/sghajdao/Canvas-Attendance-lti/tests"
)

var errAuditDown = errors.New("audit table unavailable")

// failingAuditRepo fails every AppendAudit made inside a transaction.
type failingAuditRepo struct {
	attendance.Repository
}

func (r failingAuditRepo) RunInTx(ctx context.Context, fn func(tx attendance.Repository) error) error {
	return r.Repository.RunInTx(ctx, func(tx attendance.Repository) error {
		return fn(failingAuditRepo{tx})
	})
}

func (failingAuditRepo) AppendAudit(context.Context, attendance.AuditEntry) (attendance.AuditEntry, error) {
	return attendance.AuditEntry{}, errAuditDown
}

func newService(t *testing.T, repo attendance.Repository) attendance.Service {
	return attendance.NewService(testutil.NewConfig(), repo, testutil.NewLogger(t))
}

func setup(t *testing.T) (attendance.Service, attendance.Repository) {
	repo := inmemdb.NewAttendanceRepository(inmemdb.Open())
	return newService(t, repo), repo
}

var (
	march1 = attendance.NewDate(2024, time.March, 1)
	march4 = attendance.NewDate(2024, time.March, 4)

	instructor = attendance.Actor{ID: "I1", SISID: "SIS-I1", Name: "Dr. Smith"}
)

func markOf(student string, date attendance.Date, status attendance.Status) attendance.Mark {
	return attendance.Mark{
		Key: attendance.SessionKey{
			CourseID:     "C1",
			CourseSISID:  "SIS-C1",
			CourseName:   "CSC 3351",
			SessionDate:  date,
			SessionType:  attendance.SessionMorning,
			StudentID:    student,
			StudentSISID: "SIS-" + student,
		},
		Status:     status,
		Actor:      instructor,
		MarkedTime: attendance.NewClockTime(9, 5, 0),
	}
}

func studentAudit(t *testing.T, svc attendance.Service, studentSISID string) []attendance.AuditEntry {
	entries, err := svc.GetAuditTrail(context.Background(), attendance.AuditFilter{StudentSISID: studentSISID})
	require.NoError(t, err)
	return entries
}

func TestService_Mark(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	now := time.Date(2024, time.March, 1, 9, 6, 0, 0, time.UTC)
	defer attendance.FreezeNow(now)()

	t.Run("Initial mark", func(t *testing.T) {
		wasUpdate, err := svc.Mark(ctx, markOf("S1", march1, attendance.StatusPresent))
		require.NoError(t, err)
		assert.False(t, wasUpdate)

		recs, err := svc.GetSession(ctx, "C1", march1, attendance.SessionMorning)
		require.NoError(t, err)
		if assert.Len(t, recs, 1) {
			assert.Equal(t, attendance.StatusPresent, recs[0].Status)
			assert.Equal(t, "09:05:00", recs[0].MarkedTime.String())
			assert.Equal(t, now, recs[0].MarkedAt)
			assert.Equal(t, "I1", recs[0].MarkedBy)
		}

		entries := studentAudit(t, svc, "SIS-S1")
		if assert.Len(t, entries, 1) {
			assert.Nil(t, entries[0].OldStatus)
			assert.Equal(t, attendance.StatusPresent, entries[0].NewStatus)
			assert.Equal(t, attendance.ChangeInitial, entries[0].ChangeType)
			assert.Equal(t, recs[0].ID, entries[0].SessionID)
		}
	})

	t.Run("Update", func(t *testing.T) {
		wasUpdate, err := svc.Mark(ctx, markOf("S1", march1, attendance.StatusLate))
		require.NoError(t, err)
		assert.True(t, wasUpdate)

		recs, err := svc.GetSession(ctx, "C1", march1, "")
		require.NoError(t, err)
		if assert.Len(t, recs, 1) {
			assert.Equal(t, attendance.StatusLate, recs[0].Status)
		}

		entries := studentAudit(t, svc, "SIS-S1")
		if assert.Len(t, entries, 2) {
			latest := entries[0]
			if assert.NotNil(t, latest.OldStatus) {
				assert.Equal(t, attendance.StatusPresent, *latest.OldStatus)
			}
			assert.Equal(t, attendance.StatusLate, latest.NewStatus)
			assert.Equal(t, attendance.ChangeUpdate, latest.ChangeType)
		}
	})

	t.Run("Same status again", func(t *testing.T) {
		later := now.Add(15 * time.Minute)
		defer attendance.FreezeNow(later)()

		m := markOf("S1", march1, attendance.StatusLate)
		m.MarkedTime = attendance.NewClockTime(9, 20, 0)
		wasUpdate, err := svc.Mark(ctx, m)
		require.NoError(t, err)
		assert.True(t, wasUpdate)

		recs, err := svc.GetSession(ctx, "C1", march1, attendance.SessionMorning)
		require.NoError(t, err)
		if assert.Len(t, recs, 1) {
			assert.Equal(t, attendance.StatusLate, recs[0].Status)
			assert.Equal(t, "09:20:00", recs[0].MarkedTime.String())
			assert.Equal(t, later, recs[0].MarkedAt)
		}

		entries := studentAudit(t, svc, "SIS-S1")
		if assert.Len(t, entries, 3) {
			latest := entries[0]
			if assert.NotNil(t, latest.OldStatus) {
				assert.Equal(t, attendance.StatusLate, *latest.OldStatus)
			}
			assert.Equal(t, attendance.StatusLate, latest.NewStatus)
			assert.Equal(t, attendance.ChangeUpdate, latest.ChangeType)
			assert.Equal(t, "09:20:00", latest.MarkedTime.String())
			assert.Equal(t, later, latest.ChangedAt)
		}
	})

	t.Run("Instructor name of the first mark is kept", func(t *testing.T) {
		m := markOf("S1", march1, attendance.StatusLate)
		m.Actor = attendance.Actor{ID: "I2", SISID: "SIS-I2", Name: "Prof. Jones"}
		_, err := svc.Mark(ctx, m)
		require.NoError(t, err)

		recs, err := svc.GetSession(ctx, "C1", march1, attendance.SessionMorning)
		require.NoError(t, err)
		if assert.Len(t, recs, 1) {
			assert.Equal(t, "I2", recs[0].MarkedBy)
			assert.Equal(t, "SIS-I2", recs[0].MarkedBySISID)
			assert.Equal(t, "Dr. Smith", recs[0].InstructorName)
		}
	})

	t.Run("Evening is another session", func(t *testing.T) {
		m := markOf("S1", march1, attendance.StatusAbsent)
		m.Key.SessionType = attendance.SessionEvening
		wasUpdate, err := svc.Mark(ctx, m)
		require.NoError(t, err)
		assert.False(t, wasUpdate)

		recs, err := svc.GetSession(ctx, "C1", march1, attendance.SessionMorning)
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})

	t.Run("Marked time defaults to now", func(t *testing.T) {
		m := markOf("S2", march1, attendance.StatusPresent)
		m.MarkedTime = attendance.ClockTime{}
		_, err := svc.Mark(ctx, m)
		require.NoError(t, err)

		recs, err := svc.GetSession(ctx, "C1", march1, attendance.SessionMorning)
		require.NoError(t, err)
		if assert.Len(t, recs, 2) {
			assert.Equal(t, "09:06:00", recs[1].MarkedTime.String())
		}
	})

	t.Run("Invalid marks", func(t *testing.T) {
		noStudent := markOf("", march1, attendance.StatusPresent)
		badStatus := markOf("S1", march1, "tardy")
		badSession := markOf("S1", march1, attendance.StatusPresent)
		badSession.Key.SessionType = "afternoon"
		noActor := markOf("S1", march1, attendance.StatusPresent)
		noActor.Actor = attendance.Actor{}

		for _, m := range []attendance.Mark{noStudent, badStatus, badSession, noActor} {
			_, err := svc.Mark(ctx, m)
			assert.True(t, core.IsValidationError(err), "%v", err)
		}
	})
}

func TestService_Mark_auditFailureRollsBack(t *testing.T) {
	repo := inmemdb.NewAttendanceRepository(inmemdb.Open())
	healthy := newService(t, repo)
	broken := newService(t, failingAuditRepo{repo})
	ctx := context.Background()

	_, err := broken.Mark(ctx, markOf("S1", march1, attendance.StatusPresent))
	assert.Equal(t, errAuditDown, errors.Cause(err))

	recs, err := healthy.GetSession(ctx, "C1", march1, attendance.SessionMorning)
	require.NoError(t, err)
	assert.Empty(t, recs, "record insert is rolled back")

	_, err = healthy.Mark(ctx, markOf("S1", march1, attendance.StatusPresent))
	require.NoError(t, err)
	_, err = broken.Mark(ctx, markOf("S1", march1, attendance.StatusAbsent))
	assert.Error(t, err)

	recs, err = healthy.GetSession(ctx, "C1", march1, attendance.SessionMorning)
	require.NoError(t, err)
	if assert.Len(t, recs, 1) {
		assert.Equal(t, attendance.StatusPresent, recs[0].Status, "record update is rolled back")
	}
	assert.Len(t, studentAudit(t, healthy, "SIS-S1"), 1)
}

func TestService_Mark_concurrent(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	statuses := []attendance.Status{
		attendance.StatusPresent, attendance.StatusAbsent, attendance.StatusLate, attendance.StatusExcused,
	}
	const n = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	var initials int
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wasUpdate, err := svc.Mark(ctx, markOf("S1", march1, statuses[i%len(statuses)]))
			assert.NoError(t, err)
			if !wasUpdate {
				mu.Lock()
				initials++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, initials, "exactly one mark creates the record")

	recs, err := svc.GetSession(ctx, "C1", march1, attendance.SessionMorning)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	// the audit chain is complete and links every status to the previous one
	entries := studentAudit(t, svc, "SIS-S1")
	require.Len(t, entries, n)
	assert.Equal(t, recs[0].Status, entries[0].NewStatus, "record holds the latest status")
	for i := len(entries) - 1; i >= 0; i-- {
		if i == len(entries)-1 {
			assert.Nil(t, entries[i].OldStatus)
			assert.Equal(t, attendance.ChangeInitial, entries[i].ChangeType)
			continue
		}
		if assert.NotNil(t, entries[i].OldStatus) {
			assert.Equal(t, entries[i+1].NewStatus, *entries[i].OldStatus)
		}
		assert.Equal(t, attendance.ChangeUpdate, entries[i].ChangeType)
	}
}

func TestService_MarkBatch(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Mark(ctx, markOf("S2", march1, attendance.StatusAbsent))
	require.NoError(t, err)

	marks := []attendance.Mark{
		markOf("S1", march1, attendance.StatusPresent),
		markOf("S2", march1, attendance.StatusPresent),
		markOf("S3", march1, "tardy"),
	}
	for i := 4; i <= 12; i++ {
		marks = append(marks, markOf(fmt.Sprintf("S%d", i), march1, attendance.StatusPresent))
	}

	results := svc.MarkBatch(ctx, marks)
	require.Len(t, results, len(marks))
	for i, res := range results {
		assert.Equal(t, marks[i].Key.StudentID, res.StudentID, "results keep input order")
	}
	assert.NoError(t, results[0].Err)
	assert.False(t, results[0].WasUpdate)
	assert.NoError(t, results[1].Err)
	assert.True(t, results[1].WasUpdate)
	assert.True(t, core.IsValidationError(results[2].Err))

	recs, err := svc.GetSession(ctx, "C1", march1, attendance.SessionMorning)
	require.NoError(t, err)
	assert.Len(t, recs, len(marks)-1)
	for _, rec := range recs {
		assert.Equal(t, attendance.StatusPresent, rec.Status)
	}
}

func TestService_GetStudentHistory(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	for _, m := range []attendance.Mark{
		markOf("S1", march1, attendance.StatusPresent),
		markOf("S1", march4, attendance.StatusLate),
		markOf("S2", march4, attendance.StatusAbsent),
	} {
		_, err := svc.Mark(ctx, m)
		require.NoError(t, err)
	}

	history, err := svc.GetStudentHistory(ctx, "SIS-C1", "SIS-S1")
	require.NoError(t, err)
	if assert.Len(t, history.Records, 2) {
		assert.Equal(t, march4, history.Records[0].SessionDate, "most recent first")
	}
	assert.Equal(t, attendance.Stats{Total: 2, Present: 1, Late: 1}, history.Stats)

	history, err = svc.GetStudentHistory(ctx, "SIS-C1", "SIS-S9")
	require.NoError(t, err)
	assert.NotNil(t, history.Records)
	assert.Empty(t, history.Records)

	_, err = svc.GetStudentHistory(ctx, "", "SIS-S1")
	assert.True(t, core.IsValidationError(err))
}

func TestService_GetAuditTrail(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Mark(ctx, markOf("S1", march1, attendance.StatusPresent))
	require.NoError(t, err)
	_, err = svc.Mark(ctx, markOf("S2", march1, attendance.StatusAbsent))
	require.NoError(t, err)
	_, err = svc.Mark(ctx, markOf("S1", march4, attendance.StatusLate))
	require.NoError(t, err)

	tests := []struct {
		name      string
		filter    attendance.AuditFilter
		wantCount int
		wantErr   bool
	}{
		{name: "By course and date", filter: attendance.AuditFilter{CourseSISID: "SIS-C1", ClassDate: march1}, wantCount: 2},
		{name: "By student", filter: attendance.AuditFilter{StudentSISID: "SIS-S1"}, wantCount: 2},
		{name: "Unknown student", filter: attendance.AuditFilter{StudentSISID: "SIS-S9"}},
		{name: "Empty filter", filter: attendance.AuditFilter{}, wantErr: true},
		{name: "Course without date", filter: attendance.AuditFilter{CourseSISID: "SIS-C1"}, wantErr: true},
		{name: "Both shapes", filter: attendance.AuditFilter{CourseSISID: "SIS-C1", ClassDate: march1, StudentSISID: "SIS-S1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := svc.GetAuditTrail(ctx, tt.filter)
			if tt.wantErr {
				assert.True(t, core.IsValidationError(err), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, entries, tt.wantCount)
		})
	}
}

func TestService_GetAuditTrail_studentLimit(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	statuses := []attendance.Status{attendance.StatusPresent, attendance.StatusAbsent}
	for i := 0; i < attendance.AuditStudentLimit+5; i++ {
		_, err := svc.Mark(ctx, markOf("S1", march1, statuses[i%2]))
		require.NoError(t, err)
	}
	assert.Len(t, studentAudit(t, svc, "SIS-S1"), attendance.AuditStudentLimit)
}

func TestService_Export(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	defer attendance.FreezeNow(time.Date(2024, time.March, 2, 12, 0, 0, 0, time.UTC))()

	_, err := svc.Mark(ctx, markOf("S1", march1, attendance.StatusPresent))
	require.NoError(t, err)
	_, err = svc.Mark(ctx, markOf("S1", march1, attendance.StatusLate))
	require.NoError(t, err)

	noSIS := markOf("S2", march1, attendance.StatusAbsent)
	noSIS.Key.StudentSISID = ""
	_, err = svc.Mark(ctx, noSIS)
	require.NoError(t, err)

	// after "today": excluded unless date_to says otherwise
	_, err = svc.Mark(ctx, markOf("S3", march4, attendance.StatusExcused))
	require.NoError(t, err)

	t.Run("Unbounded", func(t *testing.T) {
		rows, err := svc.Export(ctx, attendance.ExportFilter{CourseID: "C1"})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, attendance.ExportRow{
			CourseSISID:  "SIS-C1",
			StudentSISID: "SIS-S1",
			Status:       attendance.StatusLate,
			ClassDate:    march1,
			TeacherSISID: "SIS-I1",
			CourseCode:   "CSC 3351",
			TeacherName:  "Dr. Smith",
		}, rows[0])

		buf := new(bytes.Buffer)
		require.NoError(t, attendance.WriteCSV(buf, rows))
		lines, err := csv.NewReader(buf).ReadAll()
		require.NoError(t, err)
		assert.Equal(t, [][]string{
			{"SIS_Course_ID", "SIS_Student_ID", "Attendance", "Class_Date", "SIS_Teacher_ID", "Course_Code", "Teacher_Name"},
			{"SIS-C1", "SIS-S1", "late", "2024-03-01", "SIS-I1", "CSC 3351", "Dr. Smith"},
		}, lines)
	})

	t.Run("Bounded", func(t *testing.T) {
		to := march4
		rows, err := svc.Export(ctx, attendance.ExportFilter{CourseID: "C1", DateFrom: &march4, DateTo: &to})
		require.NoError(t, err)
		if assert.Len(t, rows, 1) {
			assert.Equal(t, "SIS-S3", rows[0].StudentSISID)
		}
	})

	t.Run("Inverted range", func(t *testing.T) {
		to := march1
		_, err := svc.Export(ctx, attendance.ExportFilter{CourseID: "C1", DateFrom: &march4, DateTo: &to})
		assert.True(t, core.IsValidationError(err))
	})

	t.Run("Course required", func(t *testing.T) {
		_, err := svc.Export(ctx, attendance.ExportFilter{})
		assert.True(t, core.IsValidationError(err))
	})
}
