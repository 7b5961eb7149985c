package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
	"github.com/sghajdao/Canvas-Attendance-lti/core/vault"
)

const (
	tokenTable = "canvas_tokens"

	onConflictReplace = "ON CONFLICT (user_id, course_id) DO UPDATE SET " +
		"access_token = EXCLUDED.access_token, " +
		"refresh_token = EXCLUDED.refresh_token, " +
		"expires_at = EXCLUDED.expires_at, " +
		"updated_at = EXCLUDED.updated_at"
)

var tokenColumns = []string{
	"user_id", "course_id", "access_token", "refresh_token", "expires_at", "created_at", "updated_at",
}

type tokenRow struct {
	UserID       string      `db:"user_id"`
	CourseID     string      `db:"course_id"`
	AccessToken  string      `db:"access_token"`
	RefreshToken null.String `db:"refresh_token"`
	ExpiresAt    time.Time   `db:"expires_at"`
	CreatedAt    time.Time   `db:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"`
}

func (r tokenRow) unboil() vault.Entry {
	return vault.Entry{
		UserID:       r.UserID,
		CourseID:     r.CourseID,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken.String,
		ExpiresAt:    r.ExpiresAt.UTC(),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

type tokenRepository struct {
	exec core.DBExecutor
}

var _ vault.Repository = (*tokenRepository)(nil) // interface compliance check

func NewTokenRepository(exec core.DBExecutor) vault.Repository {
	return &tokenRepository{exec: exec}
}

func (repo *tokenRepository) run(ctx context.Context, query sq.Sqlizer, msg string) (sql.Result, error) {
	q, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	res, err := repo.exec.ExecContext(ctx, q, args...)
	return res, errors.Wrap(err, msg)
}

func (repo *tokenRepository) Upsert(ctx context.Context, e vault.Entry) error {
	query := psql.Insert(tokenTable).
		Columns(tokenColumns...).
		Values(
			e.UserID, e.CourseID, e.AccessToken, nullString(e.RefreshToken),
			e.ExpiresAt.UTC(), e.CreatedAt.UTC(), e.UpdatedAt.UTC()).
		Suffix(onConflictReplace)
	_, err := repo.run(ctx, query, "upserting token entry")
	return err
}

func (repo *tokenRepository) Find(ctx context.Context, userID, courseID string) (vault.Entry, error) {
	q, args, err := psql.Select(tokenColumns...).
		From(tokenTable).
		Where(sq.Eq{"user_id": userID, "course_id": courseID}).
		ToSql()
	if err != nil {
		return vault.Entry{}, errors.Wrap(err, "building query")
	}

	var row tokenRow
	if err = repo.exec.GetContext(ctx, &row, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return vault.Entry{}, vault.ErrNotFound
		}
		return vault.Entry{}, errors.Wrap(err, "finding token entry")
	}
	return row.unboil(), nil
}

func (repo *tokenRepository) Delete(ctx context.Context, userID, courseID string) error {
	query := psql.Delete(tokenTable).Where(sq.Eq{"user_id": userID, "course_id": courseID})
	_, err := repo.run(ctx, query, "deleting token entry")
	return err
}

func (repo *tokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := psql.Delete(tokenTable).Where(sq.LtOrEq{"expires_at": now.UTC()})
	res, err := repo.run(ctx, query, "deleting expired token entries")
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return n, errors.Wrap(err, "counting deleted token entries")
}
