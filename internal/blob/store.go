// Package blob stores opaque attachment bytes and hands out retrievable URLs.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/safechat/internal/errs"
)

// Store keeps blobs by id.
type Store interface {
	Put(ctx context.Context, data []byte) (id string, err error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// DirStore keeps one file per blob under dir.
type DirStore struct {
	dir string
}

// NewDirStore creates dir if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("blob dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) path(id string) (string, error) {
	u, err := uuid.FromString(id)
	if err != nil || u.String() != id {
		return "", fmt.Errorf("%w: bad blob id", errs.ErrInvalidArgument)
	}
	return filepath.Join(s.dir, id+".blob"), nil
}

// Put writes data under a fresh id.
func (s *DirStore) Put(_ context.Context, data []byte) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	p, _ := s.path(id.String())
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return id.String(), nil
}

// Get reads a blob; unknown ids yield ErrNotFound.
func (s *DirStore) Get(_ context.Context, id string) ([]byte, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return b, nil
}
