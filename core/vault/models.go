package vault

import (
	"time"

	"github.com/pkg/errors"

	"github.com/sghajdao/Canvas-Attendance-lti/core"
)

var (
	ErrNoToken                 = errors.New("no token available")
	ErrNotFound                = errors.New("token entry not found")
	ErrDecryptionFailed        = errors.New("token decryption failed")
	ErrEncryptionNotConfigured = core.ErrEncryptionNotConfigured
)

type (
	// Entry is one stored credential pair. Both tokens are encrypted; RefreshToken may be empty.
	Entry struct {
		UserID       string
		CourseID     string
		AccessToken  string
		RefreshToken string
		ExpiresAt    time.Time
		CreatedAt    time.Time
		UpdatedAt    time.Time
	}

	// Credentials are the decrypted tokens of a live Entry.
	Credentials struct {
		AccessToken  string
		RefreshToken string
		ExpiresAt    time.Time
	}

	// Token is what the upstream OAuth endpoint issued. ExpiresIn is in seconds, 0 when not reported.
	Token struct {
		AccessToken  string
		RefreshToken string
		ExpiresIn    int
	}
)

func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}
