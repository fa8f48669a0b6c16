package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc             *redis.Client
	expireDuration time.Duration
}

// NewRepo stores rooms in redis. Every key of a room is refreshed with
// expireDuration on write so that rooms of a crashed process do not linger.
func NewRepo(rc *redis.Client, expireDuration time.Duration) *repo {
	return &repo{
		rc:             rc,
		expireDuration: expireDuration,
	}
}

// Reset drops every room key. Room state must not outlive the process, so
// the server calls it on start.
func (r repo) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := r.rc.Scan(ctx, cursor, "room:*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan room keys: %w", err)
		}

		if len(keys) > 0 {
			if err := r.rc.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete room keys: %w", err)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if err := r.rc.Del(ctx, r.getRoomsKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete room set: %w", err)
	}

	return nil
}
