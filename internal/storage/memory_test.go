package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/igwedaniel/sharkmon/internal/types"
)

func TestInMemoryStorage_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage("sharkmon", time.Hour)
	saved := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return saved }

	in := &types.PoolData{
		Stats:  &types.PoolSnapshot{PoolHashrate: 2e9, ConnectedMiners: 5, BlockHeight: 100},
		Blocks: &types.BlockList{Blocks: []types.Block{{Height: 99}}},
	}
	if err := s.SaveSnapshot(ctx, types.FeedPool, in); err != nil {
		t.Fatalf("SaveSnapshot err=%v", err)
	}

	var out types.PoolData
	savedAt, err := s.LoadSnapshot(ctx, types.FeedPool, &out)
	if err != nil {
		t.Fatalf("LoadSnapshot err=%v", err)
	}
	if !savedAt.Equal(saved) {
		t.Fatalf("savedAt=%s want %s", savedAt, saved)
	}
	if out.Stats.PoolHashrate != 2e9 || out.Stats.ConnectedMiners != 5 || out.Blocks.Count() != 1 {
		t.Fatalf("unexpected snapshot %+v", out)
	}
}

func TestInMemoryStorage_Miss(t *testing.T) {
	s := NewInMemoryStorage("", time.Hour)
	var out types.Leaderboard
	if _, err := s.LoadSnapshot(context.Background(), types.FeedLeaderboard, &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
}

func TestInMemoryStorage_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemoryStorage("sharkmon", time.Minute)
	s.now = func() time.Time { return now }

	if err := s.SaveSnapshot(ctx, types.FeedLeaderboard, &types.Leaderboard{}); err != nil {
		t.Fatalf("SaveSnapshot err=%v", err)
	}
	now = now.Add(2 * time.Minute)

	var out types.Leaderboard
	if _, err := s.LoadSnapshot(ctx, types.FeedLeaderboard, &out); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired entry to miss, got %v", err)
	}
}

func TestInMemoryStorage_WatchedAddress(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStorage("sharkmon", 0)
	if got, _ := s.GetWatchedAddress(ctx); got != "" {
		t.Fatalf("expected empty address, got %q", got)
	}
	s.SetWatchedAddress(ctx, "9fabc")
	if got, _ := s.GetWatchedAddress(ctx); got != "9fabc" {
		t.Fatalf("address=%q", got)
	}
}
