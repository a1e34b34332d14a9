package repository

import (
	"context"
	"fmt"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
)

type record interface{ Validate() error }

// CheckRecord rejects a record that breaks its own invariants with
// errs.ErrInvalidArgument. Every write path calls it before storing.
func CheckRecord(r record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return nil
}

// DirectMessageRepository stores immutable one-to-one message records.
type DirectMessageRepository interface {
	// InsertDirect writes a message. Records are never updated afterwards.
	InsertDirect(ctx context.Context, m *model.DirectMessage) error
	// ListDirect returns a conversation newest first.
	ListDirect(ctx context.Context, conversationID string) ([]model.DirectMessage, error)
	// WatchDirect delivers the full conversation (newest first) on subscribe
	// and after every change, until ctx is done.
	WatchDirect(ctx context.Context, conversationID string) (<-chan []model.DirectMessage, error)
}

// GroupRepository stores groups with their wrapped keys and group messages.
type GroupRepository interface {
	// CreateGroup writes a group and one wrapped key per participant atomically.
	CreateGroup(ctx context.Context, g *model.Group) error
	// GetGroup loads a group with all wrapped keys.
	GetGroup(ctx context.Context, id string) (*model.Group, error)
	// ListGroups returns the groups userID participates in.
	ListGroups(ctx context.Context, userID string) ([]model.Group, error)
	// InsertGroupMessage writes a group message.
	InsertGroupMessage(ctx context.Context, m *model.GroupMessage) error
	// ListGroupMessages returns a group's messages oldest first.
	ListGroupMessages(ctx context.Context, groupID string) ([]model.GroupMessage, error)
	// WatchGroupMessages delivers the full message list (oldest first) on
	// subscribe and after every change, until ctx is done.
	WatchGroupMessages(ctx context.Context, groupID string) (<-chan []model.GroupMessage, error)
}

// TypingRepository holds last-write-wins typing status per conversation.
type TypingRepository interface {
	// SetTyping overwrites the status of st.ConversationID.
	SetTyping(ctx context.Context, st model.TypingStatus) error
	// GetTyping returns the current status; a zero status when none is set.
	GetTyping(ctx context.Context, conversationID string) (model.TypingStatus, error)
	// WatchTyping delivers every status change until ctx is done.
	WatchTyping(ctx context.Context, conversationID string) (<-chan model.TypingStatus, error)
}

// CallLogRepository records started calls.
type CallLogRepository interface {
	// InsertCallLog writes a call log entry.
	InsertCallLog(ctx context.Context, l *model.CallLog) error
	// ListCallLogs returns callerID's calls, newest first.
	ListCallLogs(ctx context.Context, callerID string) ([]model.CallLog, error)
}
