package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

// CheckpointStore persists timer checkpoints as a Redis hash per session:
//
//	HSET exam:checkpoint:{sessionID} remaining {seconds} at {unixMilli} expired {0|1}
//
// Redis keeps checkpoint writes off the hot database path; the TTL outlives
// any attempt duration so a live session can always reconcile, while
// completed sessions age out on their own.
type CheckpointStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCheckpointStore(client *redis.Client, ttl time.Duration) *CheckpointStore {
	return &CheckpointStore{client: client, ttl: ttl}
}

func (s *CheckpointStore) SaveCheckpoint(ctx context.Context, cp domain.TimerCheckpoint) error {
	key := s.key(cp.SessionID)

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"remaining", cp.RemainingSeconds,
		"at", cp.CheckpointAt.UnixMilli(),
	)
	if cp.Expired {
		pipe.HSet(ctx, key, "expired", 1)
	} else {
		// The expired field only latches. A stale flush from an interval
		// ticker must never downgrade a 1 written by the expiry path, so a
		// live checkpoint initializes the field and otherwise leaves it.
		pipe.HSetNX(ctx, key, "expired", 0)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStore) GetCheckpoint(ctx context.Context, sessionID string) (domain.TimerCheckpoint, error) {
	fields, err := s.client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return domain.TimerCheckpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(fields) == 0 {
		return domain.TimerCheckpoint{}, domain.ErrSessionNotFound
	}

	remaining, err := strconv.Atoi(fields["remaining"])
	if err != nil {
		return domain.TimerCheckpoint{}, fmt.Errorf("parse checkpoint remaining: %w", err)
	}
	atMilli, err := strconv.ParseInt(fields["at"], 10, 64)
	if err != nil {
		return domain.TimerCheckpoint{}, fmt.Errorf("parse checkpoint timestamp: %w", err)
	}

	return domain.TimerCheckpoint{
		SessionID:        sessionID,
		RemainingSeconds: remaining,
		CheckpointAt:     time.UnixMilli(atMilli),
		Expired:          fields["expired"] == "1",
	}, nil
}

func (s *CheckpointStore) key(sessionID string) string {
	return "exam:checkpoint:" + sessionID
}
