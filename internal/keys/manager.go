package keys

import (
	"context"
	"errors"
	"fmt"

	"filippo.io/age"
	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
)

// PrivateKeyName is the well-known SecureStore entry holding the private key.
const PrivateKeyName = "privateKey"

// Manager generates and loads the local identity.
type Manager struct {
	store SecureStore
	log   *zap.Logger
}

// NewManager constructs a Manager over a secure store.
func NewManager(store SecureStore, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{store: store, log: log}
}

// GenerateAndStore creates a keypair, persists the private half and returns
// the public half. Publication is the caller's job. Keys are never rotated:
// an existing private key yields ErrAlreadyExists.
func (m *Manager) GenerateAndStore(ctx context.Context, userID string) (PublicKey, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	if _, err := m.store.Get(ctx, PrivateKeyName); err == nil {
		return "", fmt.Errorf("private key: %w", errs.ErrAlreadyExists)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return "", err
	}

	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating keypair: %w", err)
	}
	if err := m.store.Set(ctx, PrivateKeyName, []byte(id.String())); err != nil {
		return "", fmt.Errorf("storing private key: %w", err)
	}
	pub := PublicKey(id.Recipient().String())
	m.log.Info("identity generated", zap.String("user", userID))
	return pub, nil
}

// LoadPrivateKey returns the stored private key or ErrKeyUnavailable.
func (m *Manager) LoadPrivateKey(ctx context.Context) (*PrivateKey, error) {
	raw, err := m.store.Get(ctx, PrivateKeyName)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrKeyUnavailable
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrKeyUnavailable, err)
	}
	k, err := parsePrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: stored key is corrupt", errs.ErrKeyUnavailable)
	}
	return k, nil
}

// Identity describes the local identity for userID.
func (m *Manager) Identity(ctx context.Context, userID string) (model.Identity, error) {
	k, err := m.LoadPrivateKey(ctx)
	if err != nil {
		return model.Identity{}, err
	}
	return model.Identity{UserID: userID, PublicKey: k.Public().String(), PrivateKeyRef: PrivateKeyName}, nil
}
