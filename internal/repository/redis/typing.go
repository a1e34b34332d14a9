// Package redis keeps ephemeral conversation state in Redis.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/safechat/internal/model"
)

const (
	// TypingTTL bounds how long a stale typing status survives a crashed client.
	TypingTTL = time.Hour

	typingPrefix = "typing:"        // typing:{conversationId} - status JSON
	notifyPrefix = "typing:notify:" // pub/sub channel per conversation
)

// TypingStore implements TypingRepository: SET for the current status and
// PUBLISH for live watchers.
type TypingStore struct {
	rdb *redis.Client
}

// NewTypingStore wraps a Redis client.
func NewTypingStore(rdb *redis.Client) *TypingStore { return &TypingStore{rdb: rdb} }

// SetTyping overwrites the status and notifies subscribers.
func (s *TypingStore) SetTyping(ctx context.Context, st model.TypingStatus) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal typing status: %w", err)
	}
	if err := s.rdb.Set(ctx, typingPrefix+st.ConversationID, data, TypingTTL).Err(); err != nil {
		return fmt.Errorf("store typing status: %w", err)
	}
	if err := s.rdb.Publish(ctx, notifyPrefix+st.ConversationID, data).Err(); err != nil {
		return fmt.Errorf("publish typing status: %w", err)
	}
	return nil
}

// GetTyping returns the current status or a zero status.
func (s *TypingStore) GetTyping(ctx context.Context, conversationID string) (model.TypingStatus, error) {
	data, err := s.rdb.Get(ctx, typingPrefix+conversationID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.TypingStatus{ConversationID: conversationID}, nil
	}
	if err != nil {
		return model.TypingStatus{}, err
	}
	var st model.TypingStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return model.TypingStatus{}, fmt.Errorf("decode typing status: %w", err)
	}
	return st, nil
}

// WatchTyping subscribes to status changes. The subscription is confirmed
// before returning so no update published afterwards is missed.
func (s *TypingStore) WatchTyping(ctx context.Context, conversationID string) (<-chan model.TypingStatus, error) {
	ps := s.rdb.Subscribe(ctx, notifyPrefix+conversationID)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe typing: %w", err)
	}

	out := make(chan model.TypingStatus, 1)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				var st model.TypingStatus
				if err := json.Unmarshal([]byte(m.Payload), &st); err != nil {
					continue
				}
				select {
				case out <- st:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
