// Package messaging implements the outbound pipelines of the client: direct
// and group sends, group creation, typing status and call bookkeeping.
// Every pipeline is linear. A failed upload, key lookup or seal aborts before
// anything is written; notifications after the write are best-effort.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/blob"
	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/groupkey"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/push"
	"github.com/and161185/safechat/internal/repository"
)

// Repos bundles the document store collections the pipelines write to.
type Repos struct {
	Users  repository.UserRepository
	Direct repository.DirectMessageRepository
	Groups repository.GroupRepository
	Typing repository.TypingRepository
	Calls  repository.CallLogRepository
}

// Me is the local user on whose behalf the service sends.
type Me struct {
	UserID   string
	Username string
	Key      *keys.PrivateKey
}

// Service sends messages for one local user.
type Service struct {
	me        Me
	echoKey   []byte
	groupKeys *groupkey.Cache
	repos     Repos
	blobs     blob.Uploader
	push      push.Sender
	log       *zap.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New constructs a Service. A missing private key is ErrKeyUnavailable.
// blobs and ps may be nil: file sends then fail with ErrUpload and
// notifications are dropped.
func New(me Me, repos Repos, blobs blob.Uploader, ps push.Sender, log *zap.Logger, opts ...Option) (*Service, error) {
	if me.UserID == "" {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrInvalidArgument)
	}
	if me.Key == nil {
		return nil, errs.ErrKeyUnavailable
	}
	echo, err := me.Key.EchoKey()
	if err != nil {
		return nil, fmt.Errorf("echo key: %w", err)
	}
	if ps == nil {
		ps = push.Discard{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		me:        me,
		echoKey:   echo,
		groupKeys: groupkey.NewCache(me.Key),
		repos:     repos,
		blobs:     blobs,
		push:      ps,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Forget drops cached group keys, e.g. on logout.
func (s *Service) Forget() { s.groupKeys.Forget() }

// SetTyping publishes whether the local user is typing to peerID.
func (s *Service) SetTyping(ctx context.Context, peerID string, typing bool) error {
	if peerID == "" {
		return fmt.Errorf("%w: empty peer", errs.ErrInvalidArgument)
	}
	if s.repos.Typing == nil {
		return fmt.Errorf("%w: typing status not configured", errs.ErrInvalidState)
	}
	st := model.TypingStatus{
		ConversationID: model.ConversationID(s.me.UserID, peerID),
		LastTypedAt:    s.now(),
	}
	if typing {
		st.TypingUserID = s.me.UserID
	}
	return s.repos.Typing.SetTyping(ctx, st)
}

// recipient loads a user and their published key.
func (s *Service) recipient(ctx context.Context, userID string) (*model.User, keys.PublicKey, error) {
	u, err := s.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", fmt.Errorf("user %s: %w", userID, err)
	}
	if u.PublicKey == "" {
		return nil, "", fmt.Errorf("%w: user %s has not published a key", errs.ErrInvalidState, userID)
	}
	pub, err := keys.ParsePublicKey(u.PublicKey)
	if err != nil {
		return nil, "", fmt.Errorf("user %s: %w", userID, err)
	}
	return u, pub, nil
}

// upload stores data and maps every failure to ErrUpload.
func (s *Service) upload(ctx context.Context, data []byte) (string, error) {
	if s.blobs == nil {
		return "", fmt.Errorf("%w: no blob store configured", errs.ErrUpload)
	}
	url, err := s.blobs.Upload(ctx, data)
	if err != nil {
		if errors.Is(err, errs.ErrUpload) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", errs.ErrUpload, err)
	}
	return url, nil
}

func (s *Service) notify(ctx context.Context, u *model.User, n push.Notification) {
	if u.PushToken == "" {
		return
	}
	if err := s.push.Send(ctx, u.PushToken, n); err != nil {
		s.log.Warn("push failed", zap.String("to", u.ID), zap.Error(err))
	}
}

func newID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
