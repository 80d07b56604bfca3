package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aenulfahir/tryoutkan-main-sub001/internal/domain"
)

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}

func TestCheckpointRoundtrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewCheckpointStore(newClient(mr), time.Hour)
	ctx := context.Background()

	cp := domain.TimerCheckpoint{
		SessionID:        "sess-1",
		RemainingSeconds: 845,
		CheckpointAt:     time.Date(2024, 11, 22, 9, 15, 0, 0, time.UTC),
	}
	if err := store.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	got, err := store.GetCheckpoint(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if got.RemainingSeconds != 845 {
		t.Fatalf("expected remaining 845, got %d", got.RemainingSeconds)
	}
	if !got.CheckpointAt.Equal(cp.CheckpointAt) {
		t.Fatalf("expected checkpoint at %v, got %v", cp.CheckpointAt, got.CheckpointAt)
	}
	if got.Expired {
		t.Fatalf("expected live checkpoint")
	}
}

func TestCheckpointExpiredFlagSticks(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewCheckpointStore(newClient(mr), time.Hour)
	ctx := context.Background()

	final := domain.TimerCheckpoint{
		SessionID:    "sess-1",
		CheckpointAt: time.Now(),
		Expired:      true,
	}
	if err := store.SaveCheckpoint(ctx, final); err != nil {
		t.Fatalf("save final checkpoint: %v", err)
	}

	got, err := store.GetCheckpoint(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get checkpoint: %v", err)
	}
	if !got.Expired || got.RemainingSeconds != 0 {
		t.Fatalf("expected latched expiry, got %+v", got)
	}

	// A stale interval flush arriving after expiry must not clear the flag.
	stale := domain.TimerCheckpoint{
		SessionID:        "sess-1",
		RemainingSeconds: 3,
		CheckpointAt:     time.Now(),
	}
	if err := store.SaveCheckpoint(ctx, stale); err != nil {
		t.Fatalf("save stale checkpoint: %v", err)
	}
	got, err = store.GetCheckpoint(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get checkpoint after stale write: %v", err)
	}
	if !got.Expired {
		t.Fatalf("stale write cleared the expired flag: %+v", got)
	}
}

func TestCheckpointMissingSession(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewCheckpointStore(newClient(mr), time.Hour)

	if _, err := store.GetCheckpoint(context.Background(), "nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session not found, got %v", err)
	}
}

func TestCheckpointKeyHasTTL(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	store := NewCheckpointStore(newClient(mr), time.Hour)
	cp := domain.TimerCheckpoint{SessionID: "sess-1", RemainingSeconds: 10, CheckpointAt: time.Now()}
	if err := store.SaveCheckpoint(context.Background(), cp); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	if ttl := mr.TTL("exam:checkpoint:sess-1"); ttl != time.Hour {
		t.Fatalf("expected one hour TTL, got %v", ttl)
	}
}
