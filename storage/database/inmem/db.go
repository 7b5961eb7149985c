package inmemdb

import (
	"sync"

	"github.com/sghajdao/Canvas-Attendance-lti/core/attendance"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

type (
	// DB keeps every table in memory. It backs tests and `debug` runs without Postgres.
	DB struct {
		attendance *attendanceTables
		token      *tokenTable
	}

	// attendanceTables holds records and their audit trail; the mutex is held for a whole transaction.
	attendanceTables struct {
		sync.Mutex
		records map[int64]attendance.Record
		audit   []attendance.AuditEntry
		pk      int64
		auditPK int64
	}

	tokenTable struct {
		sync.RWMutex
		table map[tokenKey]vault.Entry
	}

	tokenKey struct {
		userID   string
		courseID string
	}
)

func Open() *DB {
	return &DB{
		attendance: &attendanceTables{records: make(map[int64]attendance.Record)},
		token:      &tokenTable{table: make(map[tokenKey]vault.Entry)},
	}
}

func (t *attendanceTables) snapshot() attendanceTables {
	records := make(map[int64]attendance.Record, len(t.records))
	for id, rec := range t.records {
		records[id] = rec
	}
	audit := make([]attendance.AuditEntry, len(t.audit))
	copy(audit, t.audit)
	return attendanceTables{records: records, audit: audit, pk: t.pk, auditPK: t.auditPK}
}

func (t *attendanceTables) restore(snap *attendanceTables) {
	t.records = snap.records
	t.audit = snap.audit
	t.pk = snap.pk
	t.auditPK = snap.auditPK
}
