// Package crypto implements server-side password hashing for account records.
package crypto

import (
	"crypto/subtle"

	"golang.org/x/crypto/argon2"

	"github.com/and161185/safechat/internal/crypto/clientcrypto"
)

// Argon2id parameters (tuned for server-side hashing).
const (
	argonTime    uint32 = 3         // iterations
	argonMemory  uint32 = 64 * 1024 // 64 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the per-account salt size.
	SaltLen = 16
)

// Credentials is a stored password verifier.
type Credentials struct {
	Hash []byte
	Salt []byte
}

// NewCredentials hashes password under a fresh random salt.
func NewCredentials(password []byte) (Credentials, error) {
	salt, err := clientcrypto.Rand(SaltLen)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Hash: HashPassword(password, salt), Salt: salt}, nil
}

// HashPassword returns Argon2id hash of password using the provided salt.
func HashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Verify reports whether password matches the stored credentials.
func (c Credentials) Verify(password []byte) bool {
	if len(c.Hash) == 0 || len(c.Salt) == 0 {
		return false
	}
	got := HashPassword(password, c.Salt)
	return subtle.ConstantTimeCompare(got, c.Hash) == 1
}
