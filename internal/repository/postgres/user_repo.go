package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, username, pwd_hash, salt_auth, public_key, push_token)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Username, u.PwdHash, u.SaltAuth, u.PublicKey, u.PushToken)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

const selectUser = `
SELECT id, username, pwd_hash, salt_auth, public_key, push_token, created_at
FROM users`

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx, selectUser+` WHERE id=$1`, id))
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return scanUser(r.db.Pool.QueryRow(ctx, selectUser+` WHERE username=$1`, username))
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PwdHash, &u.SaltAuth, &u.PublicKey, &u.PushToken, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// SetPublicKeyIfEmpty publishes the key only if none is set. Keys are never
// rotated, so a second publication yields ErrAlreadyExists.
func (r *UserRepo) SetPublicKeyIfEmpty(ctx context.Context, id, publicKey string) error {
	const q = `
UPDATE users
SET public_key = $2
WHERE id = $1 AND public_key = ''`
	tag, err := r.db.Pool.Exec(ctx, q, id, publicKey)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return errs.ErrAlreadyExists
	}
	return nil
}

// SetPushToken overwrites the push token.
func (r *UserRepo) SetPushToken(ctx context.Context, id, token string) error {
	const q = `UPDATE users SET push_token = $2 WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, q, id, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
