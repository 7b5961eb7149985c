package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

// Token framing: base64(salt | nonce | tag | ciphertext).
const (
	saltLen    = 64
	nonceLen   = 16
	tagLen     = 16
	keyLen     = 32
	iterations = 100000
)

// Cipher seals tokens with AES-256-GCM under a key derived from the secret and a per-call salt.
type Cipher struct {
	secret     []byte
	iterations int
	rand       io.Reader
}

func NewCipher(secret string) *Cipher {
	return &Cipher{
		secret:     []byte(secret),
		iterations: iterations,
		rand:       rand.Reader,
	}
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.secret, salt, c.iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "creating block cipher")
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, errors.Wrap(err, "creating gcm")
	}
	return gcm, nil
}

// Encrypt returns the framed, base64 encoded ciphertext of plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrEncryptionNotConfigured
	}

	buf := make([]byte, saltLen+nonceLen)
	if _, err := io.ReadFull(c.rand, buf); err != nil {
		return "", errors.Wrap(err, "reading random salt and nonce")
	}
	salt, nonce := buf[:saltLen], buf[saltLen:]

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, saltLen+nonceLen+tagLen+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Any malformed input or authentication failure yields ErrDecryptionFailed.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrEncryptionNotConfigured
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < saltLen+nonceLen+tagLen {
		return "", ErrDecryptionFailed
	}
	salt := raw[:saltLen]
	nonce := raw[saltLen : saltLen+nonceLen]
	tag := raw[saltLen+nonceLen : saltLen+nonceLen+tagLen]
	ct := raw[saltLen+nonceLen+tagLen:]

	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
