package relay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/safechat/internal/errs"
)

func TestHub_BacklogUntilPeerJoins(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	a, err := h.Join("a_b", "a")
	require.NoError(t, err)

	a.Send([]byte("offer"))
	a.Send([]byte("cand"))

	b, err := h.Join("a_b", "b")
	require.NoError(t, err)
	require.Equal(t, 2, h.Size("a_b"))
	require.Equal(t, []byte("offer"), <-b.Recv())
	require.Equal(t, []byte("cand"), <-b.Recv())

	b.Send([]byte("answer"))
	require.Equal(t, []byte("answer"), <-a.Recv())
}

func TestHub_Capacity(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	_, err := h.Join("r", "a")
	require.NoError(t, err)
	_, err = h.Join("r", "a")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	_, err = h.Join("r", "b")
	require.NoError(t, err)
	_, err = h.Join("r", "c")
	require.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestHub_LeaveEndsRoom(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	a, _ := h.Join("a_b", "a")
	b, _ := h.Join("a_b", "b")

	a.Leave()
	_, ok := <-b.Recv()
	require.False(t, ok)
	require.Zero(t, h.Size("a_b"))

	// both ends are inert afterwards
	b.Send([]byte("late"))
	b.Leave()
	a.Leave()

	c, err := h.Join("a_b", "a")
	require.NoError(t, err)
	require.Equal(t, 1, h.Size("a_b"))
	c.Leave()
}
