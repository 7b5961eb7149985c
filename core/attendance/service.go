package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
)

// AuditStudentLimit caps the audit trail of a single student.
const AuditStudentLimit = 50

var (
	ErrNotFound = errors.New("attendance record not found")

	errAuditShape   = errors.New(auditShapeText)
	errInvalidRange = errors.New("date_from must not be after date_to")

	nowFunc = time.Now // mockable
)

type (
	// Repository persists records and their audit trail.
	// Methods called on the Repository handed to RunInTx's fn share one transaction.
	Repository interface {
		RunInTx(ctx context.Context, fn func(tx Repository) error) error
		// LockRecord returns the record of key and holds it until the transaction ends. ErrNotFound if none.
		LockRecord(ctx context.Context, key SessionKey) (Record, error)
		// InsertRecord inserts rec unless its key already exists, in which case inserted is false.
		InsertRecord(ctx context.Context, rec Record) (id int64, inserted bool, err error)
		// UpdateRecord overwrites the marking fields of the record rec.ID: status, marked_time,
		// marked_at, marked_by and marked_by_sis_id. Identity columns and instructor_name are kept.
		UpdateRecord(ctx context.Context, rec Record) error
		AppendAudit(ctx context.Context, entry AuditEntry) (AuditEntry, error)

		QuerySession(ctx context.Context, courseID string, date Date, sessionType SessionType) ([]Record, error)
		QueryStudentHistory(ctx context.Context, courseSISID, studentSISID string) ([]Record, error)
		// QueryAudit returns the newest entries first. A zero limit means no limit.
		QueryAudit(ctx context.Context, filter AuditFilter, limit int) ([]AuditEntry, error)
		// QueryExport returns records of courseID with a student SIS id, from `from` (nil: unbounded) to `to`,
		// ordered by session date then student SIS id.
		QueryExport(ctx context.Context, courseID string, from *Date, to Date) ([]Record, error)
	}

	Service interface {
		// Mark upserts the record of m.Key and appends one audit entry, atomically.
		Mark(ctx context.Context, m Mark) (wasUpdate bool, err error)
		// MarkBatch marks every item independently; one result per item, in input order.
		MarkBatch(ctx context.Context, marks []Mark) []BatchResult
		GetSession(ctx context.Context, courseID string, date Date, sessionType SessionType) ([]Record, error)
		GetStudentHistory(ctx context.Context, courseSISID, studentSISID string) (StudentHistory, error)
		GetAuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
		Export(ctx context.Context, filter ExportFilter) ([]ExportRow, error)
	}

	service struct {
		repo             Repository
		logger           core.Logger
		batchConcurrency int
	}
)

var _ Service = (*service)(nil)

func NewService(conf *core.Config, repo Repository, logger core.Logger) Service {
	concurrency := conf.Attendance.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &service{
		repo:             repo,
		logger:           logger,
		batchConcurrency: concurrency,
	}
}

func checkMark(m Mark) error {
	var flds []core.FieldError
	if m.Key.CourseID == "" {
		flds = append(flds, core.FieldError{Field: "course_id", Error: "this field is required"})
	}
	if m.Key.StudentID == "" {
		flds = append(flds, core.FieldError{Field: "student_id", Error: "this field is required"})
	}
	if m.Key.SessionDate.IsZero() {
		flds = append(flds, core.FieldError{Field: "date", Error: "this field is required"})
	}
	if st := m.Key.SessionType.OrDefault(); !st.Valid() {
		flds = append(flds, core.FieldError{Field: "session_type", Error: fmt.Sprintf("invalid session type %q", st)})
	}
	if !m.Status.Valid() {
		flds = append(flds, core.FieldError{Field: "status", Error: fmt.Sprintf("invalid status %q", m.Status)})
	}
	if m.Actor.ID == "" {
		flds = append(flds, core.FieldError{Field: "instructor_id", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}

// stamp sets the marking time of rec, and its class time when the caller gave none.
func stamp(rec *Record, defaultTime bool) {
	now := nowFunc()
	rec.MarkedAt = now.UTC()
	if defaultTime {
		rec.MarkedTime = ClockOf(now)
	}
}

// claim makes rec the current record of its key, inserting or updating it.
// It returns the record it replaced, or nil when rec was inserted.
// rec is stamped only once its row is held, so marking times follow lock order.
func claim(ctx context.Context, tx Repository, rec *Record) (*Record, error) {
	key := rec.Key()
	defaultTime := rec.MarkedTime.IsZero()

	prev, err := tx.LockRecord(ctx, key)
	if errors.Cause(err) == ErrNotFound {
		stamp(rec, defaultTime)
		var inserted bool
		if rec.ID, inserted, err = tx.InsertRecord(ctx, *rec); err != nil {
			return nil, errors.Wrap(err, "inserting record")
		}
		if inserted {
			return nil, nil
		}
		// a concurrent first mark won the insert
		prev, err = tx.LockRecord(ctx, key)
	}
	if err != nil {
		return nil, errors.Wrap(err, "locking record")
	}

	stamp(rec, defaultTime)
	rec.ID = prev.ID
	if err = tx.UpdateRecord(ctx, *rec); err != nil {
		return nil, errors.Wrap(err, "updating record")
	}
	return &prev, nil
}

func (svc *service) Mark(ctx context.Context, m Mark) (bool, error) {
	m.Key.SessionType = m.Key.SessionType.OrDefault()
	if err := checkMark(m); err != nil {
		return false, err
	}

	var wasUpdate bool
	err := svc.repo.RunInTx(ctx, func(tx Repository) error {
		rec := Record{
			CourseID:       m.Key.CourseID,
			CourseSISID:    m.Key.CourseSISID,
			CourseName:     m.Key.CourseName,
			SessionDate:    m.Key.SessionDate,
			SessionType:    m.Key.SessionType,
			StudentID:      m.Key.StudentID,
			StudentSISID:   m.Key.StudentSISID,
			Status:         m.Status,
			MarkedTime:     m.MarkedTime,
			MarkedBy:       m.Actor.ID,
			MarkedBySISID:  m.Actor.SISID,
			InstructorName: m.Actor.Name,
		}
		prev, err := claim(ctx, tx, &rec)
		if err != nil {
			return err
		}

		entry := AuditEntry{
			SessionID:      rec.ID,
			StudentID:      m.Key.StudentID,
			StudentSISID:   m.Key.StudentSISID,
			CourseSISID:    m.Key.CourseSISID,
			SessionType:    m.Key.SessionType,
			NewStatus:      m.Status,
			ChangedBy:      m.Actor.ID,
			ChangedBySISID: m.Actor.SISID,
			ClassDate:      m.Key.SessionDate,
			MarkedTime:     rec.MarkedTime,
			ChangedAt:      rec.MarkedAt,
			ChangeType:     ChangeInitial,
		}
		if prev != nil {
			oldStatus := prev.Status
			entry.OldStatus = &oldStatus
			entry.ChangeType = ChangeUpdate
		}
		if _, err = tx.AppendAudit(ctx, entry); err != nil {
			return errors.Wrap(err, "appending audit entry")
		}

		wasUpdate = prev != nil
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "marking attendance")
	}
	return wasUpdate, nil
}

func (svc *service) MarkBatch(ctx context.Context, marks []Mark) []BatchResult {
	results := make([]BatchResult, len(marks))

	var g errgroup.Group
	g.SetLimit(svc.batchConcurrency)
	for i, m := range marks {
		i, m := i, m
		g.Go(func() error {
			wasUpdate, err := svc.Mark(ctx, m)
			results[i] = BatchResult{StudentID: m.Key.StudentID, WasUpdate: wasUpdate, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		svc.logger.Warn(fmt.Sprintf("batch marking: %d of %d marks failed", failed, len(marks)))
	}
	return results
}

func (svc *service) GetSession(ctx context.Context, courseID string, date Date, sessionType SessionType) ([]Record, error) {
	sessionType = sessionType.OrDefault()
	if courseID == "" || date.IsZero() || !sessionType.Valid() {
		return nil, core.NewValidationError(errors.New("course_id, date and a valid session_type are required"))
	}
	recs, err := svc.repo.QuerySession(ctx, courseID, date, sessionType)
	if err != nil {
		return nil, errors.Wrap(err, "querying session")
	}
	return recs, nil
}

func (svc *service) GetStudentHistory(ctx context.Context, courseSISID, studentSISID string) (StudentHistory, error) {
	if courseSISID == "" || studentSISID == "" {
		return StudentHistory{}, core.NewValidationError(errors.New("course_sis_id and student_sis_id are required"))
	}
	recs, err := svc.repo.QueryStudentHistory(ctx, courseSISID, studentSISID)
	if err != nil {
		return StudentHistory{}, errors.Wrap(err, "querying student history")
	}

	history := StudentHistory{Records: recs}
	if history.Records == nil {
		history.Records = []Record{}
	}
	for _, rec := range recs {
		history.Stats.Count(rec.Status)
	}
	return history, nil
}

func (svc *service) GetAuditTrail(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	if err := checkAuditFilter(filter); err != nil {
		return nil, err
	}
	var limit int
	if filter.ByStudent() {
		limit = AuditStudentLimit
	}
	entries, err := svc.repo.QueryAudit(ctx, filter, limit)
	if err != nil {
		return nil, errors.Wrap(err, "querying audit trail")
	}
	return entries, nil
}

func (svc *service) Export(ctx context.Context, filter ExportFilter) ([]ExportRow, error) {
	if filter.CourseID == "" {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "course_id", Error: "this field is required"})
	}
	to := DateOf(nowFunc().UTC())
	if filter.DateTo != nil {
		to = *filter.DateTo
	}
	if filter.DateFrom != nil && filter.DateFrom.After(to) {
		return nil, core.NewValidationError(errInvalidRange, core.FieldError{Field: "date_from", Error: errInvalidRange.Error()})
	}

	recs, err := svc.repo.QueryExport(ctx, filter.CourseID, filter.DateFrom, to)
	if err != nil {
		return nil, errors.Wrap(err, "querying export")
	}
	rows := make([]ExportRow, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, NewExportRow(rec))
	}
	return rows, nil
}
