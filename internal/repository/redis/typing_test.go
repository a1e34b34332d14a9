package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/repository"
)

var _ repository.TypingRepository = (*TypingStore)(nil)

func newStore(t *testing.T) (*TypingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTypingStore(rdb), mr
}

func TestTypingStore_SetGet(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	st, err := s.GetTyping(ctx, "a_b")
	require.NoError(t, err)
	require.Equal(t, "a_b", st.ConversationID)
	require.Empty(t, st.TypingUserID)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.SetTyping(ctx, model.TypingStatus{ConversationID: "a_b", TypingUserID: "a", LastTypedAt: now}))
	require.NoError(t, s.SetTyping(ctx, model.TypingStatus{ConversationID: "a_b", TypingUserID: "", LastTypedAt: now}))

	st, err = s.GetTyping(ctx, "a_b")
	require.NoError(t, err)
	require.Empty(t, st.TypingUserID)
	require.True(t, now.Equal(st.LastTypedAt))

	require.Greater(t, mr.TTL("typing:a_b"), time.Duration(0))
	raw, err := mr.Get("typing:a_b")
	require.NoError(t, err)
	require.Contains(t, raw, `"lastTyped"`)
}

func TestTypingStore_Watch(t *testing.T) {
	s, _ := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchTyping(ctx, "a_b")
	require.NoError(t, err)

	require.NoError(t, s.SetTyping(ctx, model.TypingStatus{ConversationID: "a_b", TypingUserID: "b"}))
	select {
	case st := <-ch:
		require.Equal(t, "b", st.TypingUserID)
	case <-time.After(2 * time.Second):
		t.Fatal("no typing update")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
