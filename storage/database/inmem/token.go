package inmemdb

import (
	"context"
	"time"

	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

type tokenRepository struct {
	db *tokenTable
}

var _ vault.Repository = (*tokenRepository)(nil) // interface compliance check

func NewTokenRepository(db *DB) vault.Repository {
	return &tokenRepository{db: db.token}
}

func (repo *tokenRepository) Upsert(_ context.Context, e vault.Entry) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	key := tokenKey{userID: e.UserID, courseID: e.CourseID}
	if orig, ok := repo.db.table[key]; ok {
		e.CreatedAt = orig.CreatedAt
	}
	repo.db.table[key] = e
	return nil
}

func (repo *tokenRepository) Find(_ context.Context, userID, courseID string) (vault.Entry, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if e, ok := repo.db.table[tokenKey{userID: userID, courseID: courseID}]; ok {
		return e, nil
	}
	return vault.Entry{}, vault.ErrNotFound
}

func (repo *tokenRepository) Delete(_ context.Context, userID, courseID string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	delete(repo.db.table, tokenKey{userID: userID, courseID: courseID})
	return nil
}

func (repo *tokenRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var n int64
	for key, e := range repo.db.table {
		if e.Expired(now) {
			delete(repo.db.table, key)
			n++
		}
	}
	return n, nil
}

