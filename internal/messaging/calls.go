package messaging

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/call"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/push"
)

// MediaStarter is the part of a call session StartCall drives.
type MediaStarter interface {
	StartLocalMedia(ctx context.Context) error
}

var _ MediaStarter = (*call.Session)(nil)

// StartCall acquires local media for a call to calleeID. On success the
// call is logged and the callee notified; both are best-effort. Offer
// creation stays with the caller.
func (s *Service) StartCall(ctx context.Context, sess MediaStarter, calleeID string) error {
	callee, err := s.repos.Users.GetByID(ctx, calleeID)
	if err != nil {
		return fmt.Errorf("callee %s: %w", calleeID, err)
	}
	if err := sess.StartLocalMedia(ctx); err != nil {
		return err
	}

	id, err := newID()
	if err == nil {
		err = s.repos.Calls.InsertCallLog(ctx, &model.CallLog{
			ID:         id,
			CallerID:   s.me.UserID,
			CalleeID:   callee.ID,
			CalleeName: callee.Username,
			StartedAt:  s.now(),
		})
	}
	if err != nil {
		s.log.Warn("call log", zap.String("callee", callee.ID), zap.Error(err))
	}
	s.notify(ctx, callee, push.IncomingCall(s.me.UserID, s.me.Username))
	return nil
}
