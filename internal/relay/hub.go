// Package relay forwards opaque call-signaling payloads between the two
// participants of a conversation.
package relay

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/safechat/internal/errs"
)

const (
	// MaxPeers is the room capacity.
	MaxPeers = 2

	memberBuffer = 256
	backlogLimit = 256
)

// Hub pairs peers by room. Payloads sent while a peer is alone are kept
// until the other side joins; once either side leaves, the room ends for
// both.
type Hub struct {
	log   *zap.Logger
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	members []*Member
	backlog [][]byte
}

// Member is one peer's attachment to a room.
type Member struct {
	hub    *Hub
	room   string
	userID string
	out    chan []byte
	left   bool
}

// NewHub returns an empty hub.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, rooms: make(map[string]*room)}
}

// Join attaches userID to roomID. A full room or a second attachment by
// the same user is rejected.
func (h *Hub) Join(roomID, userID string) (*Member, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[roomID]
	if r == nil {
		r = &room{}
		h.rooms[roomID] = r
	}
	for _, m := range r.members {
		if m.userID == userID {
			return nil, fmt.Errorf("%w: %s already in room", errs.ErrAlreadyExists, userID)
		}
	}
	if len(r.members) >= MaxPeers {
		return nil, fmt.Errorf("%w: room full", errs.ErrInvalidState)
	}

	m := &Member{hub: h, room: roomID, userID: userID, out: make(chan []byte, memberBuffer)}
	r.members = append(r.members, m)
	for _, b := range r.backlog {
		m.out <- b
	}
	r.backlog = nil
	h.log.Debug("relay join", zap.String("room", roomID), zap.Int("peers", len(r.members)))
	return m, nil
}

// Size returns the number of peers in roomID.
func (h *Hub) Size(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[roomID]; r != nil {
		return len(r.members)
	}
	return 0
}

// Recv delivers payloads from the other peer. It is closed when the room ends.
func (m *Member) Recv() <-chan []byte { return m.out }

// Send forwards b to the other peer, or keeps it until one joins. Payloads
// to a peer that is not draining are dropped.
func (m *Member) Send(b []byte) {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.left {
		return
	}
	r := h.rooms[m.room]
	if r == nil {
		return
	}
	for _, other := range r.members {
		if other == m {
			continue
		}
		select {
		case other.out <- b:
		default:
			h.log.Warn("relay peer backed up, dropping payload", zap.String("room", m.room))
		}
		return
	}
	if len(r.backlog) < backlogLimit {
		r.backlog = append(r.backlog, b)
	}
}

// Leave detaches m and ends the room for the remaining peer.
func (m *Member) Leave() {
	h := m.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.left {
		return
	}
	r := h.rooms[m.room]
	if r != nil {
		for _, other := range r.members {
			other.left = true
			close(other.out)
		}
		delete(h.rooms, m.room)
	}
	h.log.Debug("relay leave", zap.String("room", m.room))
}
