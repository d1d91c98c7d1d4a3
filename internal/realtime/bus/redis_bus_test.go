package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

func testBus(t *testing.T) Bus {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis bus integration tests")
	}
	b, err := NewRedisBus(RedisOptions{Addr: addr, Prefix: "studysync-test:"}, logger.NewNop())
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	b := testBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := realtime.WorkspaceChannel(uuid.NewString())
	stream, err := b.Dial(ctx, []string{ch})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	msg, _ := realtime.NewMessage(ch, realtime.DomainPodcasts, realtime.KindPodcastInfo, map[string]any{"message": "rendering"})
	if err := b.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	got, err := stream.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if got.Event != "podcasts:podcast_info" || got.Channel != ch {
		t.Fatalf("unexpected frame %+v", got)
	}
}

func TestNewRedisBusRequiresAddr(t *testing.T) {
	if _, err := NewRedisBus(RedisOptions{}, logger.NewNop()); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}
