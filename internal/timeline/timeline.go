// Package timeline keeps a decrypted, ascending view of a conversation in
// sync with the document store's change feed.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/groupkey"
	"github.com/and161185/safechat/internal/hybrid"
	"github.com/and161185/safechat/internal/keys"
	"github.com/and161185/safechat/internal/model"
)

// DefaultParallelism bounds concurrent decrypts within one snapshot.
const DefaultParallelism = 4

// DirectFeed is the part of the document store a direct view needs.
type DirectFeed interface {
	WatchDirect(ctx context.Context, conversationID string) (<-chan []model.DirectMessage, error)
}

// GroupFeed is the part of the document store a group view needs.
type GroupFeed interface {
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	WatchGroupMessages(ctx context.Context, groupID string) (<-chan []model.GroupMessage, error)
}

// Syncer decrypts conversations for one local user.
type Syncer struct {
	self        string
	priv        *keys.PrivateKey
	echoKey     []byte
	groupKeys   *groupkey.Cache
	log         *zap.Logger
	parallelism int
}

// Option customizes a Syncer.
type Option func(*Syncer)

// WithParallelism sets the per-snapshot decrypt concurrency.
func WithParallelism(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// New builds a Syncer for userID. priv may be nil; every message then
// renders as a placeholder carrying ErrKeyUnavailable.
func New(userID string, priv *keys.PrivateKey, log *zap.Logger, opts ...Option) (*Syncer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Syncer{self: userID, priv: priv, log: log, parallelism: DefaultParallelism}
	if priv != nil {
		ek, err := priv.EchoKey()
		if err != nil {
			return nil, fmt.Errorf("echo key: %w", err)
		}
		s.echoKey = ek
		s.groupKeys = groupkey.NewCache(priv)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// OpenDirect decrypts one direct message. Own messages come from the echo
// without touching the recipient's wrapped key.
func (s *Syncer) OpenDirect(m model.DirectMessage) (model.Content, error) {
	if s.priv == nil {
		return model.Content{}, errs.ErrKeyUnavailable
	}
	if m.SenderID == s.self {
		if len(m.PlainEcho) == 0 {
			return model.Content{}, errs.Decrypting(errors.New("own message without echo"))
		}
		return hybrid.OpenEcho(m.PlainEcho, s.echoKey)
	}
	return hybrid.OpenContent(hybrid.FromDirect(m), s.priv)
}

// GroupKey returns the session-cached group key.
func (s *Syncer) GroupKey(g model.Group) ([]byte, error) {
	if s.groupKeys == nil {
		return nil, errs.ErrKeyUnavailable
	}
	return s.groupKeys.Key(g, s.self)
}

// WatchDirect subscribes to the conversation with peerID.
func (s *Syncer) WatchDirect(ctx context.Context, feed DirectFeed, peerID string) (*Subscription, error) {
	convID := model.ConversationID(s.self, peerID)
	ctx, cancel := context.WithCancel(ctx)
	ch, err := feed.WatchDirect(ctx, convID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", convID, err)
	}
	sub := newSubscription(cancel)
	log := s.log.With(zap.String("conversation", convID))
	go run(ctx, s, sub, log, ch, func(m model.DirectMessage) entry {
		return entry{id: m.ID, sender: m.SenderID, at: m.CreatedAt, open: func() (model.Content, error) {
			return s.OpenDirect(m)
		}}
	})
	return sub, nil
}

// WatchGroup subscribes to a group the local user is a member of.
func (s *Syncer) WatchGroup(ctx context.Context, feed GroupFeed, groupID string) (*Subscription, error) {
	g, err := feed.GetGroup(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("load group %s: %w", groupID, err)
	}
	if !g.HasMember(s.self) {
		return nil, fmt.Errorf("%w: not a member of %s", errs.ErrUnauthorized, groupID)
	}
	// a key failure is rendered per message rather than failing the view
	key, keyErr := s.GroupKey(*g)

	ctx, cancel := context.WithCancel(ctx)
	ch, err := feed.WatchGroupMessages(ctx, groupID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch group %s: %w", groupID, err)
	}
	sub := newSubscription(cancel)
	log := s.log.With(zap.String("group", groupID))
	go run(ctx, s, sub, log, ch, func(m model.GroupMessage) entry {
		return entry{id: m.ID, sender: m.SenderID, at: m.CreatedAt, open: func() (model.Content, error) {
			if keyErr != nil {
				return model.Content{}, keyErr
			}
			return groupkey.Open(key, groupkey.FromGroup(m))
		}}
	})
	return sub, nil
}

type entry struct {
	id     string
	sender string
	at     time.Time
	open   func() (model.Content, error)
}

// run drives one subscription: every snapshot is decrypted (reusing earlier
// successes, records are immutable), sorted ascending and committed.
func run[T any](
	ctx context.Context, s *Syncer, sub *Subscription, log *zap.Logger,
	feed <-chan []T, conv func(T) entry,
) {
	defer sub.finish()
	cache := make(map[string]model.DisplayMessage)

	for {
		var (
			snap []T
			ok   bool
		)
		select {
		case <-ctx.Done():
			return
		case snap, ok = <-feed:
			if !ok {
				return
			}
		}

		entries := make([]entry, len(snap))
		for i, r := range snap {
			entries[i] = conv(r)
		}
		view, err := s.materialize(ctx, log, entries, cache)
		if err != nil {
			return
		}
		if !sub.commit(view) {
			return
		}
	}
}

func (s *Syncer) materialize(
	ctx context.Context, log *zap.Logger, entries []entry, cache map[string]model.DisplayMessage,
) ([]model.DisplayMessage, error) {
	out := make([]model.DisplayMessage, len(entries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if dm, ok := cache[e.id]; ok {
			out[i] = dm
			continue
		}
		if seen[e.id] {
			continue
		}
		seen[e.id] = true
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dm := model.DisplayMessage{ID: e.id, SenderID: e.sender, CreatedAt: e.at}
			c, err := e.open()
			if err != nil {
				var de *errs.DecryptionError
				stage := ""
				if errors.As(err, &de) {
					stage = de.Stage
				}
				log.Warn("message not decrypted",
					zap.String("id", e.id), zap.String("stage", stage), zap.Error(err))
				dm.Err = err
			} else {
				dm.Content = c
			}
			out[i] = dm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := out[:0]
	dedup := make(map[string]bool, len(out))
	for _, dm := range out {
		if dm.ID == "" || dedup[dm.ID] {
			continue
		}
		dedup[dm.ID] = true
		if dm.Err == nil {
			cache[dm.ID] = dm
		}
		view = append(view, dm)
	}
	Sort(view)
	return view, nil
}

// Sort orders messages ascending by creation time, ties broken by id.
func Sort(msgs []model.DisplayMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}
