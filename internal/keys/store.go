package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/and161185/safechat/internal/crypto/clientcrypto"
	"github.com/and161185/safechat/internal/errs"
)

// SecureStore is the local key-value store for private key material.
type SecureStore interface {
	// Get returns the value stored under name or errs.ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Set stores value under name, replacing any previous value.
	Set(ctx context.Context, name string, value []byte) error
}

// Compile-time interface checks.
var (
	_ SecureStore = (*MemoryStore)(nil)
	_ SecureStore = (*FileStore)(nil)
)

// MemoryStore keeps secrets in process memory.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{m: make(map[string][]byte)} }

func (s *MemoryStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(_ context.Context, name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = append([]byte(nil), value...)
	return nil
}

// FileStore is a passphrase-sealed vault file. Each entry is sealed with
// XChaCha20-Poly1305 under an Argon2id KEK; the entry name is the AAD.
type FileStore struct {
	path       string
	passphrase []byte

	mu sync.Mutex
}

type vaultFile struct {
	Salt    []byte            `json:"salt"`
	Entries map[string][]byte `json:"entries"`
}

// NewFileStore opens (lazily) the vault at path.
func NewFileStore(path string, passphrase []byte) *FileStore {
	return &FileStore{path: path, passphrase: append([]byte(nil), passphrase...)}
}

func (s *FileStore) Get(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if err != nil {
		return nil, err
	}
	sealed, ok := v.Entries[name]
	if !ok {
		return nil, errs.ErrNotFound
	}
	kek := clientcrypto.DeriveKEK(s.passphrase, v.Salt)
	defer clientcrypto.Wipe(kek)
	out, err := clientcrypto.Open(kek, sealed, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: vault entry %q", errs.ErrUnauthorized, name)
	}
	return out, nil
}

func (s *FileStore) Set(_ context.Context, name string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.read()
	if errors.Is(err, errs.ErrNotFound) {
		salt, rerr := clientcrypto.Rand(clientcrypto.SaltLen)
		if rerr != nil {
			return rerr
		}
		v = &vaultFile{Salt: salt, Entries: map[string][]byte{}}
	} else if err != nil {
		return err
	}

	kek := clientcrypto.DeriveKEK(s.passphrase, v.Salt)
	defer clientcrypto.Wipe(kek)
	sealed, err := clientcrypto.Seal(kek, value, []byte(name))
	if err != nil {
		return err
	}
	v.Entries[name] = sealed
	return s.write(v)
}

func (s *FileStore) read() (*vaultFile, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var v vaultFile
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("vault %s: %w", s.path, err)
	}
	if v.Entries == nil {
		v.Entries = map[string][]byte{}
	}
	return &v, nil
}

func (s *FileStore) write(v *vaultFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
