// Package service contains the account service: registration, login and
// publication of per-user key material.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/and161185/safechat/internal/crypto"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/limiter"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/repository"
)

// AuthService defines account operations.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, password string) (userID string, err error)
	// LoginWithIP applies rate-limiting and authenticates the user.
	LoginWithIP(ctx context.Context, username, password string, ip string) (tokens model.Tokens, user model.User, err error)
	// PublishKey stores the user's public key if none is set.
	PublishKey(ctx context.Context, userID, publicKey string) error
	// SetPushToken stores the push destination for userID.
	SetPushToken(ctx context.Context, userID, token string) error
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

// Register creates a new user record with a per-user salt.
func (s *AuthServiceImpl) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: empty username/password", errs.ErrInvalidArgument)
	}
	uid, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	cred, err := pkgcrypto.NewCredentials([]byte(password))
	if err != nil {
		return "", err
	}

	u := &model.User{
		ID:       uid.String(),
		Username: username,
		PwdHash:  cred.Hash,
		SaltAuth: cred.Salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return "", err
	}
	return u.ID, nil
}

// LoginWithIP authenticates with rate limiting by (username, ip).
func (s *AuthServiceImpl) LoginWithIP(ctx context.Context, username, password, ip string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil || !(pkgcrypto.Credentials{Hash: u.PwdHash, Salt: u.SaltAuth}).Verify([]byte(password)) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthorized
	}

	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}

// PublishKey persists the public key once. Identities are never rotated, so
// a second publication fails with ErrAlreadyExists.
func (s *AuthServiceImpl) PublishKey(ctx context.Context, userID, publicKey string) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	if _, err := keys.ParsePublicKey(publicKey); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return s.users.SetPublicKeyIfEmpty(ctx, userID, publicKey)
}

// SetPushToken overwrites the push token.
func (s *AuthServiceImpl) SetPushToken(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("%w: empty user id/token", errs.ErrInvalidArgument)
	}
	return s.users.SetPushToken(ctx, userID, token)
}
