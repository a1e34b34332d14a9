// Package groupkey distributes one symmetric key per group, wrapped
// individually for every member. Group messages are then sealed with that key
// directly, without any per-message asymmetric step.
package groupkey

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
)

var (
	infoBody     = []byte("group/body")
	infoFile     = []byte("group/file")
	infoFileName = []byte("group/file-name")
)

// Create generates a group key and wraps it for every member. The caller
// owns the returned key and should wipe it once the group is written.
func Create(members map[string]keys.PublicKey) ([]byte, map[string][]byte, error) {
	if len(members) == 0 {
		return nil, nil, fmt.Errorf("%w: no members", errs.ErrInvalidArgument)
	}
	key, err := clientcrypto.NewKey()
	if err != nil {
		return nil, nil, err
	}
	wrapped := make(map[string][]byte, len(members))
	for uid, pub := range members {
		w, err := keys.Wrap(key, pub)
		if err != nil {
			clientcrypto.Wipe(key)
			return nil, nil, fmt.Errorf("wrapping for %s: %w", uid, err)
		}
		wrapped[uid] = w
	}
	return key, wrapped, nil
}

// Unwrap recovers the group key from the member's wrapped copy. It is
// idempotent: the same wrapped value always yields the same key.
func Unwrap(wrappedForMe []byte, priv *keys.PrivateKey) ([]byte, error) {
	return keys.Unwrap(wrappedForMe, priv)
}

// Cache keeps unwrapped group keys for the session.
type Cache struct {
	priv *keys.PrivateKey

	mu   sync.Mutex
	keys map[string][]byte
}

// NewCache returns a cache unwrapping with priv.
func NewCache(priv *keys.PrivateKey) *Cache {
	return &Cache{priv: priv, keys: make(map[string][]byte)}
}

// Key returns the group key for g, unwrapping the member's copy on first access.
func (c *Cache) Key(g model.Group, userID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if k, ok := c.keys[g.ID]; ok {
		return k, nil
	}
	w, ok := g.EncryptedKeys[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a member of %s", errs.ErrKeyUnavailable, userID, g.ID)
	}
	k, err := Unwrap(w, c.priv)
	if err != nil {
		return nil, err
	}
	c.keys[g.ID] = k
	return k, nil
}

// Forget wipes every cached key.
func (c *Cache) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, k := range c.keys {
		clientcrypto.Wipe(k)
		delete(c.keys, id)
	}
}

// Sealed holds the encrypted fields of a group message.
type Sealed struct {
	CipherText      []byte
	File            []byte
	FileType        model.FileType
	WrappedFileName []byte
}

// Seal encrypts c under the group key.
func Seal(key []byte, c model.Content) (Sealed, error) {
	if err := c.Validate(); err != nil {
		return Sealed{}, fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	var (
		s   Sealed
		err error
	)
	switch c.Kind {
	case model.ContentText:
		s.CipherText, err = seal(key, infoBody, []byte(c.Text))
	case model.ContentFile:
		s.FileType = c.FileType
		if s.File, err = seal(key, infoFile, []byte(c.FileURL)); err == nil && c.FileName != "" {
			s.WrappedFileName, err = seal(key, infoFileName, []byte(c.FileName))
		}
	}
	if err != nil {
		return Sealed{}, err
	}
	return s, nil
}

// Open decrypts a group message with the group key.
func Open(key []byte, s Sealed) (model.Content, error) {
	if len(s.CipherText) > 0 {
		pt, err := open(key, infoBody, s.CipherText)
		if err != nil {
			return model.Content{}, err
		}
		return model.Text(string(pt)), nil
	}
	if len(s.File) == 0 {
		return model.Content{}, errs.Decrypting(errors.New("no payload"))
	}
	url, err := open(key, infoFile, s.File)
	if err != nil {
		return model.Content{}, err
	}
	var name []byte
	if len(s.WrappedFileName) > 0 {
		if name, err = open(key, infoFileName, s.WrappedFileName); err != nil {
			return model.Content{}, err
		}
	}
	return model.File(string(url), string(name), s.FileType), nil
}

// Apply copies the sealed fields onto a record.
func (s Sealed) Apply(m *model.GroupMessage) {
	m.CipherText = s.CipherText
	m.File = s.File
	m.FileType = s.FileType
	m.WrappedFileName = s.WrappedFileName
}

// FromGroup extracts the sealed fields of a record.
func FromGroup(m model.GroupMessage) Sealed {
	return Sealed{CipherText: m.CipherText, File: m.File, FileType: m.FileType, WrappedFileName: m.WrappedFileName}
}

// Fingerprint is a short non-secret identifier of a group key, for logs and
// consistency checks between members.
func Fingerprint(key []byte) (string, error) {
	sub, err := clientcrypto.DeriveSubkey(key, []byte("group/fingerprint"))
	if err != nil {
		return "", err
	}
	defer clientcrypto.Wipe(sub)
	return hex.EncodeToString(sub[:8]), nil
}

func seal(key, info, pt []byte) ([]byte, error) {
	return clientcrypto.Seal(key, pt, info)
}

func open(key, info, blob []byte) ([]byte, error) {
	pt, err := clientcrypto.Open(key, blob, info)
	if err != nil {
		return nil, errs.Decrypting(err)
	}
	return pt, nil
}
