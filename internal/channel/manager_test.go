package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/yungbote/studysync/internal/notify"
	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

// flakyTransport dials through a Hub, can refuse the first N dials and can drop
// every live stream on demand.
type flakyTransport struct {
	hub *realtime.Hub

	mu       sync.Mutex
	failures int
	dials    int
	streams  []realtime.Stream
}

func (f *flakyTransport) Dial(ctx context.Context, scopes []string) (realtime.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection refused")
	}
	s, err := f.hub.Dial(ctx, scopes)
	if err != nil {
		return nil, err
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *flakyTransport) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.streams {
		_ = s.Close()
	}
	f.streams = nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) handle(_ context.Context, ev realtime.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []realtime.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]realtime.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind())
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestManager(t *testing.T, tr realtime.Transport, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithBackoff(time.Millisecond, 5*time.Millisecond)}, opts...)
	m := NewManager(tr, logger.NewNop(), opts...)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func broadcast(t *testing.T, hub *realtime.Hub, ws string, d realtime.Domain, k realtime.Kind, payload any) {
	t.Helper()
	msg, err := realtime.NewMessage(realtime.WorkspaceChannel(ws), d, k, payload)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	hub.Broadcast(msg)
}

func TestDispatchesInDeliveryOrderToMatchingDomain(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	m := newTestManager(t, hub)
	ctx := context.Background()

	h, err := m.Connect(ctx, "ws1")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !h.Connected() {
		t.Fatalf("expected connected handle")
	}

	var flash, sheets recorder
	if _, err := h.Subscribe(realtime.DomainFlashcards, Handlers{
		realtime.KindGenerationStart:    flash.handle,
		realtime.KindInfo:               flash.handle,
		realtime.KindGenerationComplete: flash.handle,
	}); err != nil {
		t.Fatalf("Subscribe flashcards: %v", err)
	}
	if _, err := h.Subscribe(realtime.DomainWorksheets, Handlers{realtime.KindInfo: sheets.handle}); err != nil {
		t.Fatalf("Subscribe worksheets: %v", err)
	}

	broadcast(t, hub, "ws1", realtime.DomainFlashcards, realtime.KindGenerationStart, nil)
	broadcast(t, hub, "ws1", realtime.DomainWorksheets, realtime.KindInfo, map[string]any{"message": "w"})
	broadcast(t, hub, "ws1", realtime.DomainFlashcards, realtime.KindInfo, map[string]any{"progress": 50})
	broadcast(t, hub, "ws1", realtime.DomainFlashcards, realtime.KindGenerationComplete, nil)

	eventually(t, "flashcard events", func() bool { return flash.len() == 3 })
	eventually(t, "worksheet events", func() bool { return sheets.len() == 1 })
	want := []realtime.Kind{realtime.KindGenerationStart, realtime.KindInfo, realtime.KindGenerationComplete}
	for i, k := range flash.kinds() {
		if k != want[i] {
			t.Fatalf("order[%d]: want=%s got=%s", i, want[i], k)
		}
	}
}

func TestFailedDialDegradesAndRecovers(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	tr := &flakyTransport{hub: hub, failures: 3}
	rec := &notify.Recorder{}
	var connMu sync.Mutex
	var transitions []bool
	m := newTestManager(t, tr, WithNotifier(rec), WithConnectivityFunc(func(_ string, up bool) {
		connMu.Lock()
		transitions = append(transitions, up)
		connMu.Unlock()
	}))

	h, err := m.Connect(context.Background(), "ws1")
	if err != nil {
		t.Fatalf("Connect must not fail on connectivity: %v", err)
	}
	if h.Connected() {
		t.Fatalf("expected disconnected handle after refused dial")
	}
	notices := rec.Notices()
	if len(notices) != 1 || notices[0].Kind != errs.KindConnectivity {
		t.Fatalf("want one connectivity notice, got=%+v", notices)
	}
	if !errors.Is(notices[0].Err, errs.ErrConnectivity) {
		t.Fatalf("notice error should be a connectivity error: %v", notices[0].Err)
	}

	eventually(t, "reconnect", h.Connected)
	if n := len(rec.Notices()); n != 1 {
		t.Fatalf("retries within one outage must not re-notify; notices=%d", n)
	}
	connMu.Lock()
	got := append([]bool(nil), transitions...)
	connMu.Unlock()
	if len(got) < 2 || got[0] != false || got[len(got)-1] != true {
		t.Fatalf("unexpected connectivity transitions %v", got)
	}
}

func TestReconnectResubscribesRegisteredDomains(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	tr := &flakyTransport{hub: hub}
	m := newTestManager(t, tr)
	ctx := context.Background()

	h, _ := m.Connect(ctx, "ws1")
	var info recorder
	if _, err := h.Subscribe(realtime.DomainWorksheets, Handlers{realtime.KindInfo: info.handle}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	ch := realtime.WorkspaceChannel("ws1")

	broadcast(t, hub, "ws1", realtime.DomainWorksheets, realtime.KindInfo, map[string]any{"message": "step 1"})
	eventually(t, "first info", func() bool { return info.len() == 1 })

	tr.dropAll()
	eventually(t, "hub resubscription", func() bool { return hub.Subscribers(ch) == 1 && tr.dialCount() >= 2 })
	eventually(t, "connected again", h.Connected)

	// Server replays the same info after reconnect; delivery is at-least-once.
	broadcast(t, hub, "ws1", realtime.DomainWorksheets, realtime.KindInfo, map[string]any{"message": "step 1"})
	eventually(t, "replayed info", func() bool { return info.len() == 2 })
}

func (f *flakyTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func TestUnsubscribeStopsDeliverySynchronously(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	m := newTestManager(t, hub)
	ctx := context.Background()
	h, _ := m.Connect(ctx, "ws1")

	started := make(chan struct{})
	release := make(chan struct{})
	var calls recorder
	_, err := h.Subscribe(realtime.DomainFlashcards, Handlers{
		realtime.KindInfo: func(ctx context.Context, ev realtime.Event) {
			calls.handle(ctx, ev)
			if calls.len() == 1 {
				close(started)
				<-release
			}
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	broadcast(t, hub, "ws1", realtime.DomainFlashcards, realtime.KindInfo, nil)
	<-started

	unsubscribed := make(chan struct{})
	go func() {
		h.Unsubscribe(ctx, realtime.DomainFlashcards)
		close(unsubscribed)
	}()
	select {
	case <-unsubscribed:
		t.Fatalf("Unsubscribe returned while a handler was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-unsubscribed

	broadcast(t, hub, "ws1", realtime.DomainFlashcards, realtime.KindInfo, nil)
	time.Sleep(20 * time.Millisecond)
	if n := calls.len(); n != 1 {
		t.Fatalf("handler invoked after unsubscribe: calls=%d", n)
	}
}

func TestUnsubscribeFromInsideHandler(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	m := newTestManager(t, hub)
	h, _ := m.Connect(context.Background(), "ws1")

	var calls recorder
	_, err := h.Subscribe(realtime.DomainPodcasts, Handlers{
		realtime.KindPodcastComplete: func(ctx context.Context, ev realtime.Event) {
			calls.handle(ctx, ev)
			h.Unsubscribe(ctx, realtime.DomainPodcasts)
		},
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	broadcast(t, hub, "ws1", realtime.DomainPodcasts, realtime.KindPodcastComplete, nil)
	broadcast(t, hub, "ws1", realtime.DomainPodcasts, realtime.KindPodcastComplete, nil)
	eventually(t, "first completion", func() bool { return calls.len() == 1 })
	time.Sleep(20 * time.Millisecond)
	if n := calls.len(); n != 1 {
		t.Fatalf("want exactly one call, got=%d", n)
	}
}

func TestSharedConnectionPerWorkspace(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := realtime.NewHub(logger.NewNop())
	m := NewManager(hub, logger.NewNop(), WithBackoff(time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()
	ch := realtime.WorkspaceChannel("ws1")

	a, _ := m.Connect(ctx, "ws1")
	b, _ := m.Connect(ctx, "ws1")
	if m.Channels() != 1 || hub.Subscribers(ch) != 1 {
		t.Fatalf("want one shared connection: channels=%d subscribers=%d", m.Channels(), hub.Subscribers(ch))
	}

	var got recorder
	if _, err := b.Subscribe(realtime.DomainFlashcards, Handlers{realtime.KindCardNew: got.handle}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := a.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect a: %v", err)
	}
	if !b.Connected() || a.Connected() {
		t.Fatalf("disconnecting one handle must not drop the other")
	}
	broadcast(t, hub, "ws1", realtime.DomainFlashcards, realtime.KindCardNew, map[string]any{"id": "c1"})
	eventually(t, "card_new via remaining handle", func() bool { return got.len() == 1 })

	if err := b.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect b: %v", err)
	}
	if m.Channels() != 0 {
		t.Fatalf("channel should be destroyed after last disconnect")
	}
	eventually(t, "hub client released", func() bool { return hub.Subscribers(ch) == 0 })
	if _, err := b.Subscribe(realtime.DomainFlashcards, Handlers{realtime.KindCardNew: got.handle}); err == nil {
		t.Fatalf("Subscribe on disconnected handle should fail")
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSubscribeValidatesKinds(t *testing.T) {
	hub := realtime.NewHub(logger.NewNop())
	m := newTestManager(t, hub)
	h, _ := m.Connect(context.Background(), "ws1")

	noop := func(context.Context, realtime.Event) {}
	_, err := h.Subscribe(realtime.DomainPodcasts, Handlers{realtime.KindGenerationStart: noop})
	if !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want invalid argument for podcasts:generation_start, got=%v", err)
	}
	if _, err := h.Subscribe(realtime.DomainPodcasts, nil); err == nil {
		t.Fatalf("want error for empty handler set")
	}
	if _, err := m.Connect(context.Background(), "  "); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want invalid argument for blank workspace, got=%v", err)
	}
}

func TestLegacyChatScopeRoutesToChatDomain(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := realtime.NewHub(logger.NewNop())
	m := NewManager(hub, logger.NewNop(), WithBackoff(time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	h, _ := m.Connect(ctx, "ws1")
	var chat recorder
	if _, err := h.Subscribe(realtime.DomainChat, Handlers{realtime.KindMessageNew: chat.handle}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// A later consumer adds a legacy scope on the same workspace; the channel redials.
	h2, _ := m.Connect(ctx, "ws1", WithLegacyScope("thread-9"))
	eventually(t, "legacy scope subscribed", func() bool { return hub.Subscribers("thread-9") == 1 })

	hub.Broadcast(realtime.Message{Channel: "thread-9", Event: "message_new", Data: []byte(`{"id":"m1","content":"hi"}`)})
	eventually(t, "legacy chat message", func() bool { return chat.len() == 1 })
	msg := chat.events[0].(realtime.ChatMessage)
	if msg.ChannelID != "thread-9" || msg.MessageID != "m1" {
		t.Fatalf("unexpected chat event %+v", msg)
	}

	_ = h2.Disconnect(ctx)
	_ = h.Disconnect(ctx)
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
