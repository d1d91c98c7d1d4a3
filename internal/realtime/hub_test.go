package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/studysync/internal/pkg/logger"
)

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubOrderingAndReconnect(t *testing.T) {
	hub := NewHub(logger.NewNop())
	channel := WorkspaceChannel("ws-1")

	clientA := hub.NewClient()
	hub.AddChannel(clientA, channel)

	hub.Broadcast(Message{Channel: channel, Event: EventName(DomainFlashcards, KindGenerationStart)})
	hub.Broadcast(Message{Channel: channel, Event: EventName(DomainFlashcards, KindInfo)})

	if got := recvMessage(t, clientA.Outbound, time.Second).Event; got != "flashcards:generation_start" {
		t.Fatalf("first event: want=flashcards:generation_start got=%s", got)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second).Event; got != "flashcards:info" {
		t.Fatalf("second event: want=flashcards:info got=%s", got)
	}

	hub.CloseClient(clientA)
	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("clientA outbound should be closed after disconnect")
	}
	if n := hub.Subscribers(channel); n != 0 {
		t.Fatalf("subscribers after close: want=0 got=%d", n)
	}

	clientB := hub.NewClient()
	hub.AddChannel(clientB, channel)
	hub.Broadcast(Message{Channel: channel, Event: EventName(DomainFlashcards, KindGenerationComplete)})
	if got := recvMessage(t, clientB.Outbound, time.Second).Event; got != "flashcards:generation_complete" {
		t.Fatalf("reconnect event: got=%s", got)
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(logger.NewNop(), WithOutboundBuffer(1))
	c := hub.NewClient()
	hub.AddChannel(c, "ch")
	hub.Broadcast(Message{Channel: "ch", Event: "a"})
	hub.Broadcast(Message{Channel: "ch", Event: "b"})
	if got := recvMessage(t, c.Outbound, time.Second).Event; got != "a" {
		t.Fatalf("want first frame kept, got=%s", got)
	}
	select {
	case msg := <-c.Outbound:
		t.Fatalf("expected second frame dropped, got=%s", msg.Event)
	default:
	}
}

func TestHubDialStream(t *testing.T) {
	hub := NewHub(logger.NewNop())
	ctx := context.Background()
	stream, err := hub.Dial(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	hub.Broadcast(Message{Channel: "b", Event: "x"})
	msg, err := stream.Recv(ctx)
	if err != nil || msg.Event != "x" {
		t.Fatalf("Recv: msg=%+v err=%v", msg, err)
	}
	_ = stream.Close()
	if _, err := stream.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("Recv after close: want io.EOF got=%v", err)
	}
}

func TestHubServeHTTPWritesFrames(t *testing.T) {
	hub := NewHub(logger.NewNop())
	client := hub.NewClient()
	hub.AddChannel(client, "ch")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeHTTP(w, r, client)
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type: got=%q", ct)
	}

	hub.Broadcast(Message{ID: "7", Channel: "ch", Event: "worksheets:info", Data: json.RawMessage(`{"message":"hi"}`)})

	br := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if lines[0] != "id: 7" || lines[1] != "event: message" || !strings.HasPrefix(lines[2], "data: ") {
		t.Fatalf("unexpected frame lines: %q", lines)
	}
	var got Message
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &got); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if got.Event != "worksheets:info" || got.Channel != "ch" {
		t.Fatalf("unexpected message %+v", got)
	}
	hub.CloseClient(client)
}
