// Package memory is an in-process document store. It implements every
// repository interface and pushes full snapshots to watchers on each write,
// which makes it the backend of choice for tests and single-process demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/repository"
)

// Store holds all records under one mutex.
type Store struct {
	mu       sync.Mutex
	users    map[string]*model.User
	direct   map[string][]model.DirectMessage // conversation id -> insertion order
	groups   map[string]*model.Group
	groupMsg map[string][]model.GroupMessage
	typing   map[string]model.TypingStatus
	calls    []model.CallLog

	directW map[string][]chan []model.DirectMessage
	groupW  map[string][]chan []model.GroupMessage
	typingW map[string][]chan model.TypingStatus
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		direct:   make(map[string][]model.DirectMessage),
		groups:   make(map[string]*model.Group),
		groupMsg: make(map[string][]model.GroupMessage),
		typing:   make(map[string]model.TypingStatus),
		directW:  make(map[string][]chan []model.DirectMessage),
		groupW:   make(map[string][]chan []model.GroupMessage),
		typingW:  make(map[string][]chan model.TypingStatus),
	}
}

// Create inserts a user.
func (s *Store) Create(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return errs.ErrAlreadyExists
	}
	for _, x := range s.users {
		if x.Username == u.Username {
			return errs.ErrAlreadyExists
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

// GetByID loads a user.
func (s *Store) GetByID(_ context.Context, id string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetByUsername loads a user by name.
func (s *Store) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

// SetPublicKeyIfEmpty publishes a key once.
func (s *Store) SetPublicKeyIfEmpty(_ context.Context, id, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	if u.PublicKey != "" {
		return errs.ErrAlreadyExists
	}
	u.PublicKey = publicKey
	return nil
}

// SetPushToken overwrites the push token.
func (s *Store) SetPushToken(_ context.Context, id, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return errs.ErrNotFound
	}
	u.PushToken = token
	return nil
}

// InsertDirect appends a message and notifies watchers.
func (s *Store) InsertDirect(_ context.Context, m *model.DirectMessage) error {
	if err := repository.CheckRecord(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.direct[m.ConversationID] {
		if x.ID == m.ID {
			return errs.ErrAlreadyExists
		}
	}
	s.direct[m.ConversationID] = append(s.direct[m.ConversationID], *m)
	snap := s.directSnapshot(m.ConversationID)
	for _, ch := range s.directW[m.ConversationID] {
		replace(ch, snap)
	}
	return nil
}

// ListDirect returns the conversation newest first.
func (s *Store) ListDirect(_ context.Context, conversationID string) ([]model.DirectMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.directSnapshot(conversationID), nil
}

// WatchDirect subscribes to a conversation.
func (s *Store) WatchDirect(ctx context.Context, conversationID string) (<-chan []model.DirectMessage, error) {
	ch := make(chan []model.DirectMessage, 1)
	s.mu.Lock()
	ch <- s.directSnapshot(conversationID)
	s.directW[conversationID] = append(s.directW[conversationID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.directW[conversationID] = remove(s.directW[conversationID], ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *Store) directSnapshot(conversationID string) []model.DirectMessage {
	src := s.direct[conversationID]
	out := make([]model.DirectMessage, len(src))
	for i := range src {
		out[len(src)-1-i] = src[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// CreateGroup stores a group.
func (s *Store) CreateGroup(_ context.Context, g *model.Group) error {
	if err := repository.CheckRecord(g); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[g.ID]; ok {
		return errs.ErrAlreadyExists
	}
	cp := *g
	cp.Participants = append([]string(nil), g.Participants...)
	cp.EncryptedKeys = make(map[string][]byte, len(g.EncryptedKeys))
	for k, v := range g.EncryptedKeys {
		cp.EncryptedKeys[k] = v
	}
	s.groups[g.ID] = &cp
	return nil
}

// GetGroup loads a group.
func (s *Store) GetGroup(_ context.Context, id string) (*model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// ListGroups returns groups with userID as a member, oldest first.
func (s *Store) ListGroups(_ context.Context, userID string) ([]model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Group
	for _, g := range s.groups {
		if g.HasMember(userID) {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// InsertGroupMessage appends a group message and notifies watchers.
func (s *Store) InsertGroupMessage(_ context.Context, m *model.GroupMessage) error {
	if err := repository.CheckRecord(m); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[m.GroupID]; !ok {
		return errs.ErrNotFound
	}
	s.groupMsg[m.GroupID] = append(s.groupMsg[m.GroupID], *m)
	snap := s.groupSnapshot(m.GroupID)
	for _, ch := range s.groupW[m.GroupID] {
		replace(ch, snap)
	}
	return nil
}

// ListGroupMessages returns the group's messages oldest first.
func (s *Store) ListGroupMessages(_ context.Context, groupID string) ([]model.GroupMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupSnapshot(groupID), nil
}

// WatchGroupMessages subscribes to a group.
func (s *Store) WatchGroupMessages(ctx context.Context, groupID string) (<-chan []model.GroupMessage, error) {
	ch := make(chan []model.GroupMessage, 1)
	s.mu.Lock()
	ch <- s.groupSnapshot(groupID)
	s.groupW[groupID] = append(s.groupW[groupID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.groupW[groupID] = remove(s.groupW[groupID], ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (s *Store) groupSnapshot(groupID string) []model.GroupMessage {
	out := append([]model.GroupMessage(nil), s.groupMsg[groupID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetTyping overwrites the typing status and notifies watchers.
func (s *Store) SetTyping(_ context.Context, st model.TypingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[st.ConversationID] = st
	for _, ch := range s.typingW[st.ConversationID] {
		replace(ch, st)
	}
	return nil
}

// GetTyping returns the current status.
func (s *Store) GetTyping(_ context.Context, conversationID string) (model.TypingStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.typing[conversationID]
	if !ok {
		return model.TypingStatus{ConversationID: conversationID}, nil
	}
	return st, nil
}

// WatchTyping subscribes to typing changes of a conversation.
func (s *Store) WatchTyping(ctx context.Context, conversationID string) (<-chan model.TypingStatus, error) {
	ch := make(chan model.TypingStatus, 1)
	s.mu.Lock()
	s.typingW[conversationID] = append(s.typingW[conversationID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.typingW[conversationID] = remove(s.typingW[conversationID], ch)
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// InsertCallLog records a call.
func (s *Store) InsertCallLog(_ context.Context, l *model.CallLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, *l)
	return nil
}

// ListCallLogs returns callerID's calls, newest first.
func (s *Store) ListCallLogs(_ context.Context, callerID string) ([]model.CallLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CallLog
	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].CallerID == callerID {
			out = append(out, s.calls[i])
		}
	}
	return out, nil
}

// replace delivers v on a 1-buffered channel, dropping a stale undelivered
// value first. Watchers always see the latest state.
func replace[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

func remove[T any](chs []chan T, ch chan T) []chan T {
	for i, c := range chs {
		if c == ch {
			return append(chs[:i], chs[i+1:]...)
		}
	}
	return chs
}
