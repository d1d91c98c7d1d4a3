package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

func waitSubscribers(t *testing.T, hub *realtime.Hub, channel string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(channel) != n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d subscribers on %s", n, channel)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketTransportReceivesHubFrames(t *testing.T) {
	log := logger.NewNop()
	hub := realtime.NewHub(log)
	srv := httptest.NewServer(Handler(hub, log))
	defer srv.Close()

	tr, err := New(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch := realtime.WorkspaceChannel("w2")
	stream, err := tr.Dial(ctx, []string{ch})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()
	waitSubscribers(t, hub, ch, 1)

	for i, kind := range []realtime.Kind{realtime.KindGenerationStart, realtime.KindInfo, realtime.KindGenerationComplete} {
		msg, _ := realtime.NewMessage(ch, realtime.DomainFlashcards, kind, nil)
		msg.ID = string(rune('a' + i))
		hub.Broadcast(msg)
	}
	for _, want := range []string{"flashcards:generation_start", "flashcards:info", "flashcards:generation_complete"} {
		got, err := stream.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if got.Event != want {
			t.Fatalf("order: want=%s got=%s", want, got.Event)
		}
	}
}

func TestWebSocketCloseReleasesHubClient(t *testing.T) {
	log := logger.NewNop()
	hub := realtime.NewHub(log)
	srv := httptest.NewServer(Handler(hub, log))
	defer srv.Close()

	tr, _ := New(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := tr.Dial(ctx, []string{"c"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	waitSubscribers(t, hub, "c", 1)

	if err := stream.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := stream.Recv(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected terminal stream error after close, got=%v", err)
	}
	waitSubscribers(t, hub, "c", 0)
}
