package inmemdb

import (
	"context"
	"sort"

	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
)

type attendanceRepository struct {
	db   *attendanceTables
	inTx bool
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{db: db.attendance}
}

// lock takes the table lock unless the repository already runs inside a transaction.
func (repo *attendanceRepository) lock() func() {
	if repo.inTx {
		return func() {}
	}
	repo.db.Lock()
	return repo.db.Unlock
}

func (repo *attendanceRepository) RunInTx(ctx context.Context, fn func(tx attendance.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}
	repo.db.Lock()
	defer repo.db.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap := repo.db.snapshot()
	if err := fn(&attendanceRepository{db: repo.db, inTx: true}); err != nil {
		repo.db.restore(&snap)
		return err
	}
	return nil
}

func sameKey(rec attendance.Record, key attendance.SessionKey) bool {
	return rec.CourseID == key.CourseID &&
		rec.SessionDate.Equal(key.SessionDate) &&
		rec.SessionType == key.SessionType &&
		rec.StudentID == key.StudentID
}

func (repo *attendanceRepository) find(key attendance.SessionKey) (attendance.Record, bool) {
	for _, rec := range repo.db.records {
		if sameKey(rec, key) {
			return rec, true
		}
	}
	return attendance.Record{}, false
}

func (repo *attendanceRepository) LockRecord(_ context.Context, key attendance.SessionKey) (attendance.Record, error) {
	defer repo.lock()()

	if rec, ok := repo.find(key); ok {
		return rec, nil
	}
	return attendance.Record{}, attendance.ErrNotFound
}

func (repo *attendanceRepository) InsertRecord(_ context.Context, rec attendance.Record) (int64, bool, error) {
	defer repo.lock()()

	if existing, ok := repo.find(rec.Key()); ok {
		return existing.ID, false, nil
	}
	repo.db.pk++
	rec.ID = repo.db.pk
	repo.db.records[rec.ID] = rec
	return rec.ID, true, nil
}

func (repo *attendanceRepository) UpdateRecord(_ context.Context, rec attendance.Record) error {
	defer repo.lock()()

	orig, ok := repo.db.records[rec.ID]
	if !ok {
		return attendance.ErrNotFound
	}
	orig.Status = rec.Status
	orig.MarkedTime = rec.MarkedTime
	orig.MarkedAt = rec.MarkedAt
	orig.MarkedBy = rec.MarkedBy
	orig.MarkedBySISID = rec.MarkedBySISID
	repo.db.records[rec.ID] = orig
	return nil
}

func (repo *attendanceRepository) AppendAudit(_ context.Context, entry attendance.AuditEntry) (attendance.AuditEntry, error) {
	defer repo.lock()()

	if _, ok := repo.db.records[entry.SessionID]; !ok {
		return attendance.AuditEntry{}, attendance.ErrNotFound
	}
	repo.db.auditPK++
	entry.ID = repo.db.auditPK
	repo.db.audit = append(repo.db.audit, entry)
	return entry, nil
}

func (repo *attendanceRepository) filter(keep func(attendance.Record) bool) []attendance.Record {
	recs := make([]attendance.Record, 0)
	for _, rec := range repo.db.records {
		if keep(rec) {
			recs = append(recs, rec)
		}
	}
	return recs
}

func (repo *attendanceRepository) QuerySession(
	_ context.Context,
	courseID string,
	date attendance.Date,
	sessionType attendance.SessionType,
) ([]attendance.Record, error) {
	defer repo.lock()()

	recs := repo.filter(func(rec attendance.Record) bool {
		return rec.CourseID == courseID && rec.SessionDate.Equal(date) && rec.SessionType == sessionType
	})
	sort.Slice(recs, func(i, j int) bool { return recs[i].StudentID < recs[j].StudentID })
	return recs, nil
}

func (repo *attendanceRepository) QueryStudentHistory(_ context.Context, courseSISID, studentSISID string) ([]attendance.Record, error) {
	defer repo.lock()()

	recs := repo.filter(func(rec attendance.Record) bool {
		return rec.CourseSISID == courseSISID && rec.StudentSISID == studentSISID
	})
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].SessionDate.Equal(recs[j].SessionDate) {
			return recs[i].SessionDate.After(recs[j].SessionDate)
		}
		return recs[i].SessionType < recs[j].SessionType
	})
	return recs, nil
}

func (repo *attendanceRepository) QueryAudit(_ context.Context, filter attendance.AuditFilter, limit int) ([]attendance.AuditEntry, error) {
	defer repo.lock()()

	entries := make([]attendance.AuditEntry, 0)
	for _, entry := range repo.db.audit {
		switch {
		case filter.ByStudent():
			if entry.StudentSISID != filter.StudentSISID {
				continue
			}
		case entry.CourseSISID != filter.CourseSISID || !entry.ClassDate.Equal(filter.ClassDate):
			continue
		}
		entries = append(entries, entry)
	}
	// newest first
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (repo *attendanceRepository) QueryExport(
	_ context.Context,
	courseID string,
	from *attendance.Date,
	to attendance.Date,
) ([]attendance.Record, error) {
	defer repo.lock()()

	recs := repo.filter(func(rec attendance.Record) bool {
		if rec.CourseID != courseID || rec.StudentSISID == "" {
			return false
		}
		if from != nil && rec.SessionDate.Before(*from) {
			return false
		}
		return !rec.SessionDate.After(to)
	})
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].SessionDate.Equal(recs[j].SessionDate) {
			return recs[i].SessionDate.Before(recs[j].SessionDate)
		}
		return recs[i].StudentSISID < recs[j].StudentSISID
	})
	return recs, nil
}
