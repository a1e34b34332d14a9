package postgres

import (
	"context"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/repository"
)

// MessageRepo implements DirectMessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a direct message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// InsertDirect writes an immutable message row.
func (r *MessageRepo) InsertDirect(ctx context.Context, m *model.DirectMessage) error {
	if err := repository.CheckRecord(m); err != nil {
		return err
	}
	const q = `
INSERT INTO direct_messages
  (id, conversation_id, sender_id, recipient_id, created_at,
   cipher_text, wrapped_key, plain_echo, file, file_type, wrapped_file_name)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.db.Pool.Exec(ctx, q,
		m.ID, m.ConversationID, m.SenderID, m.RecipientID, m.CreatedAt,
		nilIfEmpty(m.CipherText), m.WrappedKey, nilIfEmpty(m.PlainEcho),
		nilIfEmpty(m.File), string(m.FileType), nilIfEmpty(m.WrappedFileName))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// ListDirect returns a conversation newest first.
func (r *MessageRepo) ListDirect(ctx context.Context, conversationID string) ([]model.DirectMessage, error) {
	const q = `
SELECT id, conversation_id, sender_id, recipient_id, created_at,
       cipher_text, wrapped_key, plain_echo, file, file_type, wrapped_file_name
FROM direct_messages
WHERE conversation_id=$1
ORDER BY created_at DESC, seq DESC`
	rows, err := r.db.Pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.DirectMessage
	for rows.Next() {
		var (
			m  model.DirectMessage
			ft string
		)
		if err = rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID, &m.CreatedAt,
			&m.CipherText, &m.WrappedKey, &m.PlainEcho, &m.File, &ft, &m.WrappedFileName); err != nil {
			return nil, err
		}
		m.FileType = model.FileType(ft)
		out = append(out, m)
	}
	return out, rows.Err()
}

// WatchDirect polls the conversation and emits full snapshots.
func (r *MessageRepo) WatchDirect(ctx context.Context, conversationID string) (<-chan []model.DirectMessage, error) {
	const q = `SELECT COALESCE(MAX(seq),0) FROM direct_messages WHERE conversation_id=$1`
	return watch(ctx, r.db, q, conversationID, func(ctx context.Context) ([]model.DirectMessage, error) {
		return r.ListDirect(ctx, conversationID)
	})
}
