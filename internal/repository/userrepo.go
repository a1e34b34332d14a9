// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/safechat/internal/model"
)

// UserRepository provides access to account records and published keys.
type UserRepository interface {
	// Create inserts a new user.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// SetPublicKeyIfEmpty publishes the public key only if none is set yet.
	SetPublicKeyIfEmpty(ctx context.Context, id, publicKey string) error
	// SetPushToken overwrites the push destination token.
	SetPushToken(ctx context.Context, id, token string) error
}
