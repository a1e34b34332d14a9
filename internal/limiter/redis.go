package limiter

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter: failures are counted per (username, ip)
// in a key that expires after window; reaching maxFails sets a block key
// that expires after blockFor.
type Redis struct {
	rdb      *redis.Client
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb *redis.Client, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{rdb: rdb, window: window, maxFails: maxFails, blockFor: blockFor}
}

func keys(username string, ipHash []byte) (fails, block string) {
	suffix := username + ":" + hex.EncodeToString(ipHash)
	return "login:fails:" + suffix, "login:block:" + suffix
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Redis) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	_, blockKey := keys(username, ipHash)
	ttl, err := l.rdb.PTTL(ctx, blockKey).Result()
	if err != nil {
		return false, 0, fmt.Errorf("limiter allow: %w", err)
	}
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success resets counters for (username, ip).
func (l *Redis) Success(ctx context.Context, username string, ipHash []byte) error {
	failKey, blockKey := keys(username, ipHash)
	if err := l.rdb.Del(ctx, failKey, blockKey).Err(); err != nil {
		return fmt.Errorf("limiter reset: %w", err)
	}
	return nil
}

// Failure records a failed attempt; may set a block for blockFor.
func (l *Redis) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	failKey, blockKey := keys(username, ipHash)

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, failKey)
		p.ExpireNX(ctx, failKey, l.window)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("limiter failure: %w", err)
	}
	if incr.Val() < int64(l.maxFails) {
		return false, 0, nil
	}

	if _, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, blockKey, 1, l.blockFor)
		p.Del(ctx, failKey)
		return nil
	}); err != nil {
		return false, 0, fmt.Errorf("limiter block: %w", err)
	}
	return true, l.blockFor, nil
}
