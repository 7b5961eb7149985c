package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
)

const (
	attendanceTable = "attendance"
	auditTable      = "attendance_audit"

	onConflictSkip = "ON CONFLICT (course_id, session_date, session_type, student_id) DO NOTHING RETURNING id"
)

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	recordColumns = []string{
		"id", "course_id", "course_sis_id", "course_name", "session_date", "session_type", "student_id",
		"student_sis_id", "status", "marked_time", "marked_at", "marked_by", "marked_by_sis_id", "instructor_name",
	}
	auditColumns = []string{
		"id", "session_id", "student_id", "student_sis_id", "course_sis_id", "session_type", "old_status",
		"new_status", "changed_by", "changed_by_sis_id", "class_date", "marked_time", "changed_at", "change_type",
	}
)

type (
	recordRow struct {
		ID             int64                `db:"id"`
		CourseID       string               `db:"course_id"`
		CourseSISID    null.String          `db:"course_sis_id"`
		CourseName     null.String          `db:"course_name"`
		SessionDate    attendance.Date      `db:"session_date"`
		SessionType    string               `db:"session_type"`
		StudentID      string               `db:"student_id"`
		StudentSISID   null.String          `db:"student_sis_id"`
		Status         string               `db:"status"`
		MarkedTime     attendance.ClockTime `db:"marked_time"`
		MarkedAt       time.Time            `db:"marked_at"`
		MarkedBy       string               `db:"marked_by"`
		MarkedBySISID  null.String          `db:"marked_by_sis_id"`
		InstructorName null.String          `db:"instructor_name"`
	}

	auditRow struct {
		ID             int64                `db:"id"`
		SessionID      int64                `db:"session_id"`
		StudentID      string               `db:"student_id"`
		StudentSISID   null.String          `db:"student_sis_id"`
		CourseSISID    null.String          `db:"course_sis_id"`
		SessionType    string               `db:"session_type"`
		OldStatus      null.String          `db:"old_status"`
		NewStatus      string               `db:"new_status"`
		ChangedBy      string               `db:"changed_by"`
		ChangedBySISID null.String          `db:"changed_by_sis_id"`
		ClassDate      attendance.Date      `db:"class_date"`
		MarkedTime     attendance.ClockTime `db:"marked_time"`
		ChangedAt      time.Time            `db:"changed_at"`
		ChangeType     string               `db:"change_type"`
	}
)

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}

func (r recordRow) unboil() attendance.Record {
	return attendance.Record{
		ID:             r.ID,
		CourseID:       r.CourseID,
		CourseSISID:    r.CourseSISID.String,
		CourseName:     r.CourseName.String,
		SessionDate:    r.SessionDate,
		SessionType:    attendance.SessionType(r.SessionType),
		StudentID:      r.StudentID,
		StudentSISID:   r.StudentSISID.String,
		Status:         attendance.Status(r.Status),
		MarkedTime:     r.MarkedTime,
		MarkedAt:       r.MarkedAt.UTC(),
		MarkedBy:       r.MarkedBy,
		MarkedBySISID:  r.MarkedBySISID.String,
		InstructorName: r.InstructorName.String,
	}
}

func (r auditRow) unboil() attendance.AuditEntry {
	entry := attendance.AuditEntry{
		ID:             r.ID,
		SessionID:      r.SessionID,
		StudentID:      r.StudentID,
		StudentSISID:   r.StudentSISID.String,
		CourseSISID:    r.CourseSISID.String,
		SessionType:    attendance.SessionType(r.SessionType),
		NewStatus:      attendance.Status(r.NewStatus),
		ChangedBy:      r.ChangedBy,
		ChangedBySISID: r.ChangedBySISID.String,
		ClassDate:      r.ClassDate,
		MarkedTime:     r.MarkedTime,
		ChangedAt:      r.ChangedAt.UTC(),
		ChangeType:     attendance.ChangeType(r.ChangeType),
	}
	if r.OldStatus.Valid {
		old := attendance.Status(r.OldStatus.String)
		entry.OldStatus = &old
	}
	return entry
}

func unboilRecords(rows []recordRow) []attendance.Record {
	recs := make([]attendance.Record, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, r.unboil())
	}
	return recs
}

type attendanceRepository struct {
	db   core.DB
	exec core.DBExecutor
}

var (
	bySessionDate  = core.DBOrdering{Field: "session_date", Ascending: true}
	latestSession  = core.DBOrdering{Field: "session_date"}
	bySessionType  = core.DBOrdering{Field: "session_type", Ascending: true}
	byStudentID    = core.DBOrdering{Field: "student_id", Ascending: true}
	byStudentSISID = core.DBOrdering{Field: "student_sis_id", Ascending: true}
)

// audit ids are taken while the record lock is held, so they follow commit order per record
var newestChange = core.DBOrdering{Field: "id"}.String()

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sqlx.DB) attendance.Repository {
	return &attendanceRepository{db: db, exec: db}
}

// trapNoRowsErr maps psql "no rows" err to attendance.ErrNotFound
func (repo *attendanceRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return attendance.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo *attendanceRepository) RunInTx(ctx context.Context, fn func(tx attendance.Repository) error) (err error) {
	if _, ok := repo.exec.(core.DBTransactor); ok {
		return fn(repo)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&attendanceRepository{db: repo.db, exec: tx}); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (repo *attendanceRepository) get(ctx context.Context, dest interface{}, query sq.Sqlizer, msg string) error {
	q, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return repo.trapNoRowsErr(repo.exec.GetContext(ctx, dest, q, args...), msg)
}

func (repo *attendanceRepository) list(ctx context.Context, dest interface{}, query sq.Sqlizer, msg string) error {
	q, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return errors.Wrap(repo.exec.SelectContext(ctx, dest, q, args...), msg)
}

func (repo *attendanceRepository) LockRecord(ctx context.Context, key attendance.SessionKey) (attendance.Record, error) {
	query := psql.Select(recordColumns...).
		From(attendanceTable).
		Where(sq.Eq{
			"course_id":    key.CourseID,
			"session_date": key.SessionDate,
			"session_type": string(key.SessionType),
			"student_id":   key.StudentID,
		}).
		Suffix("FOR UPDATE")

	var row recordRow
	if err := repo.get(ctx, &row, query, "locking attendance record"); err != nil {
		return attendance.Record{}, err
	}
	return row.unboil(), nil
}

func (repo *attendanceRepository) InsertRecord(ctx context.Context, rec attendance.Record) (int64, bool, error) {
	query := psql.Insert(attendanceTable).
		SetMap(map[string]interface{}{
			"course_id":        rec.CourseID,
			"course_sis_id":    nullString(rec.CourseSISID),
			"course_name":      nullString(rec.CourseName),
			"session_date":     rec.SessionDate,
			"session_type":     string(rec.SessionType),
			"student_id":       rec.StudentID,
			"student_sis_id":   nullString(rec.StudentSISID),
			"status":           string(rec.Status),
			"marked_time":      rec.MarkedTime,
			"marked_at":        rec.MarkedAt.UTC(),
			"marked_by":        rec.MarkedBy,
			"marked_by_sis_id": nullString(rec.MarkedBySISID),
			"instructor_name":  nullString(rec.InstructorName),
		}).
		Suffix(onConflictSkip)

	var id int64
	err := repo.get(ctx, &id, query, "inserting attendance record")
	if err == attendance.ErrNotFound { // conflict: nothing returned
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (repo *attendanceRepository) UpdateRecord(ctx context.Context, rec attendance.Record) error {
	query := psql.Update(attendanceTable).
		Set("status", string(rec.Status)).
		Set("marked_time", rec.MarkedTime).
		Set("marked_at", rec.MarkedAt.UTC()).
		Set("marked_by", rec.MarkedBy).
		Set("marked_by_sis_id", nullString(rec.MarkedBySISID)).
		Where(sq.Eq{"id": rec.ID})

	q, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	res, err := repo.exec.ExecContext(ctx, q, args...)
	if err != nil {
		return errors.Wrap(err, "updating attendance record")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return attendance.ErrNotFound
	}
	return nil
}

func (repo *attendanceRepository) AppendAudit(ctx context.Context, entry attendance.AuditEntry) (attendance.AuditEntry, error) {
	var oldStatus null.String
	if entry.OldStatus != nil {
		oldStatus = null.StringFrom(string(*entry.OldStatus))
	}
	query := psql.Insert(auditTable).
		SetMap(map[string]interface{}{
			"session_id":        entry.SessionID,
			"student_id":        entry.StudentID,
			"student_sis_id":    nullString(entry.StudentSISID),
			"course_sis_id":     nullString(entry.CourseSISID),
			"session_type":      string(entry.SessionType),
			"old_status":        oldStatus,
			"new_status":        string(entry.NewStatus),
			"changed_by":        entry.ChangedBy,
			"changed_by_sis_id": nullString(entry.ChangedBySISID),
			"class_date":        entry.ClassDate,
			"marked_time":       entry.MarkedTime,
			"changed_at":        entry.ChangedAt.UTC(),
			"change_type":       string(entry.ChangeType),
		}).
		Suffix("RETURNING id")

	if err := repo.get(ctx, &entry.ID, query, "inserting audit entry"); err != nil {
		return attendance.AuditEntry{}, err
	}
	return entry, nil
}

func (repo *attendanceRepository) QuerySession(
	ctx context.Context,
	courseID string,
	date attendance.Date,
	sessionType attendance.SessionType,
) ([]attendance.Record, error) {
	query := psql.Select(recordColumns...).
		From(attendanceTable).
		Where(sq.Eq{"course_id": courseID, "session_date": date, "session_type": string(sessionType)}).
		OrderBy(byStudentID.String())

	var rows []recordRow
	if err := repo.list(ctx, &rows, query, "querying session"); err != nil {
		return nil, err
	}
	return unboilRecords(rows), nil
}

func (repo *attendanceRepository) QueryStudentHistory(ctx context.Context, courseSISID, studentSISID string) ([]attendance.Record, error) {
	query := psql.Select(recordColumns...).
		From(attendanceTable).
		Where(sq.Eq{"course_sis_id": courseSISID, "student_sis_id": studentSISID}).
		OrderBy(latestSession.String(), bySessionType.String())

	var rows []recordRow
	if err := repo.list(ctx, &rows, query, "querying student history"); err != nil {
		return nil, err
	}
	return unboilRecords(rows), nil
}

func (repo *attendanceRepository) QueryAudit(ctx context.Context, filter attendance.AuditFilter, limit int) ([]attendance.AuditEntry, error) {
	query := psql.Select(auditColumns...).
		From(auditTable).
		OrderBy(newestChange)
	if filter.ByStudent() {
		query = query.Where(sq.Eq{"student_sis_id": filter.StudentSISID})
	} else {
		query = query.Where(sq.Eq{"course_sis_id": filter.CourseSISID, "class_date": filter.ClassDate})
	}
	if limit > 0 {
		query = query.Limit(uint64(limit))
	}

	var rows []auditRow
	if err := repo.list(ctx, &rows, query, "querying audit trail"); err != nil {
		return nil, err
	}
	entries := make([]attendance.AuditEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.unboil())
	}
	return entries, nil
}

func (repo *attendanceRepository) QueryExport(
	ctx context.Context,
	courseID string,
	from *attendance.Date,
	to attendance.Date,
) ([]attendance.Record, error) {
	query := psql.Select(recordColumns...).
		From(attendanceTable).
		Where(sq.Eq{"course_id": courseID}).
		Where(sq.And{sq.NotEq{"student_sis_id": nil}, sq.NotEq{"student_sis_id": ""}}).
		Where(sq.LtOrEq{"session_date": to}).
		OrderBy(bySessionDate.String(), byStudentSISID.String())
	if from != nil {
		query = query.Where(sq.GtOrEq{"session_date": *from})
	}

	var rows []recordRow
	if err := repo.list(ctx, &rows, query, "querying export"); err != nil {
		return nil, err
	}
	return unboilRecords(rows), nil
}
