package postgres

import (
	"context"
	"time"
)

// watch emits list() once on subscribe and again whenever the highest seq
// returned by maxQ changes. The channel closes when ctx is done.
func watch[T any](
	ctx context.Context, db *DB, maxQ, key string, list func(context.Context) ([]T, error),
) (<-chan []T, error) {
	seq, err := maxSeq(ctx, db, maxQ, key)
	if err != nil {
		return nil, err
	}
	first, err := list(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan []T, 1)
	ch <- first
	go func() {
		defer close(ch)
		t := time.NewTicker(db.pollInterval())
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			cur, err := maxSeq(ctx, db, maxQ, key)
			if err != nil || cur == seq {
				continue
			}
			items, err := list(ctx)
			if err != nil {
				continue
			}
			seq = cur
			select {
			case ch <- items:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func maxSeq(ctx context.Context, db *DB, q, key string) (int64, error) {
	var v int64
	if err := db.Pool.QueryRow(ctx, q, key).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
