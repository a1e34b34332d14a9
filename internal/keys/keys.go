// Package keys manages the user's asymmetric identity: generation, local
// persistence of the private half and wrapping of symmetric keys.
//
// Keys are age X25519 identities. The public half ("age1...") is published on
// the user record; the private half ("AGE-SECRET-KEY-1...") only ever lives in
// the local SecureStore.
package keys

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"

	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/errs"
)

// echoInfo binds the echo subkey to its purpose.
var echoInfo = []byte("safechat/echo/v1")

// PublicKey is an age X25519 recipient string.
type PublicKey string

// ParsePublicKey validates a published key.
func ParsePublicKey(s string) (PublicKey, error) {
	if s == "" {
		return "", errs.ErrKeyUnavailable
	}
	if _, err := age.ParseX25519Recipient(s); err != nil {
		return "", fmt.Errorf("%w: invalid public key: %v", errs.ErrInvalidArgument, err)
	}
	return PublicKey(s), nil
}

func (k PublicKey) String() string { return string(k) }

// PrivateKey is a loaded identity. It is never serialized except into the SecureStore.
type PrivateKey struct {
	id *age.X25519Identity
}

// Public returns the matching public key.
func (k *PrivateKey) Public() PublicKey { return PublicKey(k.id.Recipient().String()) }

// EchoKey derives the local-only symmetric key that seals a sender's own
// message echoes. It never leaves the device and needs no asymmetric operation.
func (k *PrivateKey) EchoKey() ([]byte, error) {
	return clientcrypto.DeriveSubkey([]byte(k.id.String()), echoInfo)
}

func parsePrivateKey(b []byte) (*PrivateKey, error) {
	id, err := age.ParseX25519Identity(string(b))
	if err != nil {
		return nil, err
	}
	return &PrivateKey{id: id}, nil
}

// Wrap encrypts a symmetric key to a single recipient.
func Wrap(secret []byte, pub PublicKey) ([]byte, error) {
	r, err := age.ParseX25519Recipient(string(pub))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid public key: %v", errs.ErrInvalidArgument, err)
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, r)
	if err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}
	if _, err := w.Write(secret); err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("wrap: %w", err)
	}
	return buf.Bytes(), nil
}

// Unwrap recovers a symmetric key wrapped for priv. Every failure is an
// unwrap-stage DecryptionError.
func Unwrap(wrapped []byte, priv *PrivateKey) ([]byte, error) {
	if priv == nil {
		return nil, errs.ErrKeyUnavailable
	}
	if len(wrapped) == 0 {
		return nil, errs.Unwrapping(errors.New("empty wrapped key"))
	}
	r, err := age.Decrypt(bytes.NewReader(wrapped), priv.id)
	if err != nil {
		return nil, errs.Unwrapping(err)
	}
	secret, err := io.ReadAll(r)
	if err != nil {
		return nil, errs.Unwrapping(err)
	}
	if len(secret) != clientcrypto.KeyLen {
		clientcrypto.Wipe(secret)
		return nil, errs.Unwrapping(fmt.Errorf("unexpected key length %d", len(secret)))
	}
	return secret, nil
}

// Generate returns a fresh in-memory identity that is not persisted anywhere.
func Generate() (*PrivateKey, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{id: id}, nil
}
