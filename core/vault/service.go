package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
)

const defaultExpiresIn = 3600 // seconds

var nowFunc = time.Now // mockable

type (
	Repository interface {
		// Upsert creates or replaces the entry of (UserID, CourseID).
		Upsert(ctx context.Context, e Entry) error
		// Find returns the entry, expired or not. ErrNotFound if none.
		Find(ctx context.Context, userID, courseID string) (Entry, error)
		Delete(ctx context.Context, userID, courseID string) error
		DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	}

	// TokenSource is the upstream OAuth2 authorization server.
	TokenSource interface {
		AuthCodeURL(state string) string
		Exchange(ctx context.Context, code string) (Token, error)
		Refresh(ctx context.Context, refreshToken string) (Token, error)
	}

	Service interface {
		// Store encrypts and saves the token of (userID, courseID), replacing any previous one.
		Store(ctx context.Context, userID, courseID string, tok Token) error
		// Get returns the stored credentials if they have not expired. It never refreshes.
		Get(ctx context.Context, userID, courseID string) (Credentials, error)
		// Refresh trades the stored refresh token for a new access token.
		// On any upstream failure the entry is deleted and ErrNoToken is returned.
		Refresh(ctx context.Context, userID, courseID string) (string, error)
		Delete(ctx context.Context, userID, courseID string) error
		// Acquire returns a live access token, refreshing when the stored one has expired.
		Acquire(ctx context.Context, userID, courseID string) (string, error)
		AuthCodeURL(state string) string
		// Authorize exchanges an authorization code and stores the resulting token.
		Authorize(ctx context.Context, userID, courseID, code string) error
		PurgeExpired(ctx context.Context) (int64, error)
	}

	service struct {
		repo   Repository
		source TokenSource
		cipher *Cipher
		ttl    time.Duration
		logger core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(conf *core.Config, repo Repository, source TokenSource, logger core.Logger) Service {
	return &service{
		repo:   repo,
		source: source,
		cipher: NewCipher(conf.EncryptionKey),
		ttl:    conf.Canvas.TokenTTL,
		logger: logger,
	}
}

// expiry applies the configured validity window, or the upstream one when none is configured.
func (svc *service) expiry(now time.Time, tok Token) time.Time {
	if svc.ttl > 0 {
		return now.Add(svc.ttl)
	}
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	return now.Add(time.Duration(expiresIn) * time.Second)
}

func (svc *service) Store(ctx context.Context, userID, courseID string, tok Token) error {
	if userID == "" || courseID == "" || tok.AccessToken == "" {
		return core.NewValidationError(errors.New("user id, course id and access token are required"))
	}

	access, err := svc.cipher.Encrypt(tok.AccessToken)
	if err != nil {
		return errors.Wrap(err, "encrypting access token")
	}
	var refresh string
	if tok.RefreshToken != "" {
		if refresh, err = svc.cipher.Encrypt(tok.RefreshToken); err != nil {
			return errors.Wrap(err, "encrypting refresh token")
		}
	}

	now := nowFunc().UTC()
	entry := Entry{
		UserID:       userID,
		CourseID:     courseID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    svc.expiry(now, tok),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err = svc.repo.Upsert(ctx, entry); err != nil {
		return errors.Wrap(err, "saving token entry")
	}
	return nil
}

func (svc *service) Get(ctx context.Context, userID, courseID string) (Credentials, error) {
	entry, err := svc.repo.Find(ctx, userID, courseID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Credentials{}, ErrNoToken
		}
		return Credentials{}, errors.Wrap(err, "finding token entry")
	}
	if entry.Expired(nowFunc()) {
		return Credentials{}, ErrNoToken
	}

	creds := Credentials{ExpiresAt: entry.ExpiresAt}
	if creds.AccessToken, err = svc.cipher.Decrypt(entry.AccessToken); err != nil {
		return Credentials{}, errors.Wrap(err, "decrypting access token")
	}
	if entry.RefreshToken != "" {
		if creds.RefreshToken, err = svc.cipher.Decrypt(entry.RefreshToken); err != nil {
			return Credentials{}, errors.Wrap(err, "decrypting refresh token")
		}
	}
	return creds, nil
}

// discard deletes an entry that can no longer yield a token.
func (svc *service) discard(ctx context.Context, userID, courseID, reason string, args ...interface{}) {
	svc.logger.Warn(fmt.Sprintf("discarding canvas token of user %s in course %s: %s", userID, courseID, reason), args...)
	if err := svc.repo.Delete(ctx, userID, courseID); err != nil {
		svc.logger.Error("deleting token entry", errors.Wrap(err, "deleting token entry"))
	}
}

func (svc *service) Refresh(ctx context.Context, userID, courseID string) (string, error) {
	entry, err := svc.repo.Find(ctx, userID, courseID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return "", ErrNoToken
		}
		return "", errors.Wrap(err, "finding token entry")
	}
	if entry.RefreshToken == "" {
		svc.discard(ctx, userID, courseID, "no refresh token")
		return "", ErrNoToken
	}

	refreshToken, err := svc.cipher.Decrypt(entry.RefreshToken)
	if err != nil {
		return "", errors.Wrap(err, "decrypting refresh token")
	}

	tok, err := svc.source.Refresh(ctx, refreshToken)
	if err == nil && tok.AccessToken == "" {
		err = errors.New("empty access token in refresh response")
	}
	if err != nil {
		svc.discard(ctx, userID, courseID, "refresh failed", err)
		return "", ErrNoToken
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}

	if err = svc.Store(ctx, userID, courseID, tok); err != nil {
		return "", errors.Wrap(err, "storing refreshed token")
	}
	return tok.AccessToken, nil
}

func (svc *service) Delete(ctx context.Context, userID, courseID string) error {
	return errors.Wrap(svc.repo.Delete(ctx, userID, courseID), "deleting token entry")
}

func (svc *service) Acquire(ctx context.Context, userID, courseID string) (string, error) {
	creds, err := svc.Get(ctx, userID, courseID)
	if err == nil {
		return creds.AccessToken, nil
	}
	if err != ErrNoToken {
		return "", err
	}
	return svc.Refresh(ctx, userID, courseID)
}

func (svc *service) AuthCodeURL(state string) string {
	return svc.source.AuthCodeURL(state)
}

func (svc *service) Authorize(ctx context.Context, userID, courseID, code string) error {
	if code == "" {
		return core.NewValidationError(nil, core.FieldError{Field: "code", Error: "this field is required"})
	}
	tok, err := svc.source.Exchange(ctx, code)
	if err != nil {
		return errors.Wrap(err, "exchanging authorization code")
	}
	return svc.Store(ctx, userID, courseID, tok)
}

func (svc *service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := svc.repo.DeleteExpired(ctx, nowFunc().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "deleting expired token entries")
	}
	if n > 0 {
		svc.logger.Info(fmt.Sprintf("purged %d expired canvas tokens", n))
	}
	return n, nil
}
