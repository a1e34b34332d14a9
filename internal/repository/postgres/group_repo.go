package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/safechat/internal/errs"
	"github.com/and161185/safechat/internal/model"
	"github.com/and161185/safechat/internal/repository"
)

// GroupRepo implements GroupRepository using PostgreSQL.
type GroupRepo struct{ db *DB }

// NewGroupRepo constructs a group repository.
func NewGroupRepo(db *DB) *GroupRepo { return &GroupRepo{db: db} }

// CreateGroup inserts the group and its member keys in one transaction.
func (r *GroupRepo) CreateGroup(ctx context.Context, g *model.Group) (err error) {
	if err = repository.CheckRecord(g); err != nil {
		return err
	}
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insGroup = `INSERT INTO groups (id, name, photo_url, created_at) VALUES ($1,$2,$3,$4)`
	const insMember = `INSERT INTO group_members (group_id, user_id, wrapped_key) VALUES ($1,$2,$3)`

	if _, err = tx.Exec(ctx, insGroup, g.ID, g.Name, g.PhotoURL, g.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return errs.ErrAlreadyExists
		}
		return err
	}
	for _, uid := range g.Participants {
		if _, err = tx.Exec(ctx, insMember, g.ID, uid, g.EncryptedKeys[uid]); err != nil {
			return fmt.Errorf("member %s: %w", uid, err)
		}
	}
	return nil
}

// GetGroup loads a group and its wrapped keys.
func (r *GroupRepo) GetGroup(ctx context.Context, id string) (*model.Group, error) {
	const q = `SELECT id, name, photo_url, created_at FROM groups WHERE id=$1`
	var g model.Group
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&g.ID, &g.Name, &g.PhotoURL, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	const qm = `SELECT user_id, wrapped_key FROM group_members WHERE group_id=$1 ORDER BY user_id`
	rows, err := r.db.Pool.Query(ctx, qm, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	g.EncryptedKeys = make(map[string][]byte)
	for rows.Next() {
		var (
			uid string
			w   []byte
		)
		if err := rows.Scan(&uid, &w); err != nil {
			return nil, err
		}
		g.Participants = append(g.Participants, uid)
		g.EncryptedKeys[uid] = w
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns every group userID is a member of, oldest first.
func (r *GroupRepo) ListGroups(ctx context.Context, userID string) ([]model.Group, error) {
	const q = `
SELECT g.id FROM groups g
JOIN group_members m ON m.group_id = g.id
WHERE m.user_id=$1
ORDER BY g.created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]model.Group, 0, len(ids))
	for _, id := range ids {
		g, err := r.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}

// InsertGroupMessage writes a group message row.
func (r *GroupRepo) InsertGroupMessage(ctx context.Context, m *model.GroupMessage) error {
	if err := repository.CheckRecord(m); err != nil {
		return err
	}
	const q = `
INSERT INTO group_messages
  (id, group_id, sender_id, created_at, cipher_text, file, file_type, wrapped_file_name)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Pool.Exec(ctx, q, m.ID, m.GroupID, m.SenderID, m.CreatedAt,
		nilIfEmpty(m.CipherText), nilIfEmpty(m.File), string(m.FileType), nilIfEmpty(m.WrappedFileName))
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// ListGroupMessages returns a group's messages oldest first.
func (r *GroupRepo) ListGroupMessages(ctx context.Context, groupID string) ([]model.GroupMessage, error) {
	const q = `
SELECT id, group_id, sender_id, created_at, cipher_text, file, file_type, wrapped_file_name
FROM group_messages
WHERE group_id=$1
ORDER BY created_at ASC, seq ASC`
	rows, err := r.db.Pool.Query(ctx, q, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GroupMessage
	for rows.Next() {
		var (
			m  model.GroupMessage
			ft string
		)
		if err = rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.CreatedAt,
			&m.CipherText, &m.File, &ft, &m.WrappedFileName); err != nil {
			return nil, err
		}
		m.FileType = model.FileType(ft)
		out = append(out, m)
	}
	return out, rows.Err()
}

// WatchGroupMessages polls the group and emits full snapshots.
func (r *GroupRepo) WatchGroupMessages(ctx context.Context, groupID string) (<-chan []model.GroupMessage, error) {
	const q = `SELECT COALESCE(MAX(seq),0) FROM group_messages WHERE group_id=$1`
	return watch(ctx, r.db, q, groupID, func(ctx context.Context) ([]model.GroupMessage, error) {
		return r.ListGroupMessages(ctx, groupID)
	})
}
