package timeline

import (
	"context"
	"sync"

	"github.com/and161185/safechat/internal/model"
)

// Subscription is the handle of one active conversation view. Results are
// committed only while the handle is live; after Cancel returns nothing is
// committed any more, even by a decrypt that was already running.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	views  chan []model.DisplayMessage

	mu     sync.Mutex
	live   bool
	latest []model.DisplayMessage
	once   sync.Once
}

func newSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
		views:  make(chan []model.DisplayMessage, 1),
		live:   true,
	}
}

// Views delivers the full ordered view after every feed update. Only the
// latest undelivered view is kept. The channel closes after Cancel or when
// the feed ends.
func (s *Subscription) Views() <-chan []model.DisplayMessage { return s.views }

// Latest returns the last committed view.
func (s *Subscription) Latest() []model.DisplayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.DisplayMessage(nil), s.latest...)
}

// Live reports whether the subscription still commits results.
func (s *Subscription) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Cancel stops the subscription and waits for its loop to exit. Safe to
// call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.mu.Lock()
		s.live = false
		s.mu.Unlock()
		s.cancel()
	})
	<-s.done
}

// Done is closed once the subscription loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// commit publishes view if the handle is still live.
func (s *Subscription) commit(view []model.DisplayMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return false
	}
	s.latest = view
	select {
	case <-s.views:
	default:
	}
	s.views <- view
	return true
}

func (s *Subscription) finish() {
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()
	close(s.views)
	close(s.done)
}
