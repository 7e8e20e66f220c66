package messaging

import (
	"context"
	"testing"

	"github.com/igwedaniel/sharkmon/internal/types"
)

func TestNewFeedEvent(t *testing.T) {
	tests := []struct {
		status   types.Status
		wantType string
		wantKey  string
	}{
		{types.StatusUpdated, types.EventTypeFeedUpdated, "feed.updated.pool"},
		{types.StatusFailed, types.EventTypeFeedFailed, "feed.failed.pool"},
	}
	for _, tt := range tests {
		fe := &types.FeedEvent{Feed: types.FeedPool, Status: tt.status}
		ev := NewFeedEvent(fe)
		if ev.Type != tt.wantType {
			t.Fatalf("status %s: type=%s want %s", tt.status, ev.Type, tt.wantType)
		}
		if got := RoutingKey(ev); got != tt.wantKey {
			t.Fatalf("status %s: routing key=%s want %s", tt.status, got, tt.wantKey)
		}
		if ev.Payload != fe {
			t.Fatalf("payload not carried")
		}
	}
}

func TestNoOpPublisher(t *testing.T) {
	var p Publisher = &NoOpPublisher{}
	if err := p.PublishFeedEvent(context.Background(), &types.FeedEvent{Feed: types.FeedMiner}); err != nil {
		t.Fatalf("PublishFeedEvent err=%v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close err=%v", err)
	}
}
