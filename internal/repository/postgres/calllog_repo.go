package postgres

import (
	"context"

	"github.com/and161185/safechat/internal/model"
)

// CallLogRepo implements CallLogRepository using PostgreSQL.
type CallLogRepo struct{ db *DB }

// NewCallLogRepo constructs a call log repository.
func NewCallLogRepo(db *DB) *CallLogRepo { return &CallLogRepo{db: db} }

// InsertCallLog writes a call log row.
func (r *CallLogRepo) InsertCallLog(ctx context.Context, l *model.CallLog) error {
	const q = `
INSERT INTO call_logs (id, caller_id, callee_id, callee_name, started_at)
VALUES ($1,$2,$3,$4,$5)`
	_, err := r.db.Pool.Exec(ctx, q, l.ID, l.CallerID, l.CalleeID, l.CalleeName, l.StartedAt)
	return err
}

// ListCallLogs returns callerID's calls, newest first.
func (r *CallLogRepo) ListCallLogs(ctx context.Context, callerID string) ([]model.CallLog, error) {
	const q = `
SELECT id, caller_id, callee_id, callee_name, started_at
FROM call_logs WHERE caller_id=$1
ORDER BY started_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, callerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.CallLog
	for rows.Next() {
		var l model.CallLog
		if err := rows.Scan(&l.ID, &l.CallerID, &l.CalleeID, &l.CalleeName, &l.StartedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
