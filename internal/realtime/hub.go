package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/studysync/internal/pkg/logger"
)

const defaultOutboundBuffer = 64

// Client is one subscriber attached to a Hub.
type Client struct {
	ID       uuid.UUID
	Channels map[string]bool
	Outbound chan Message
	done     chan struct{}
	once     sync.Once
}

// Hub fans frames out to every client subscribed to a channel. It is the server
// side of a push channel and also serves as an in-process Transport.
type Hub struct {
	mu            sync.RWMutex
	logger        *logger.Logger
	subscriptions map[string]map[*Client]bool
	buffer        int
	heartbeat     time.Duration
}

type HubOption func(*Hub)

// WithOutboundBuffer sets the per-client buffer; frames beyond it are dropped.
func WithOutboundBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

func WithHeartbeat(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.heartbeat = d
		}
	}
}

func NewHub(log *logger.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		logger:        log.With("component", "Hub"),
		subscriptions: make(map[string]map[*Client]bool),
		buffer:        defaultOutboundBuffer,
		heartbeat:     15 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (hub *Hub) NewClient() *Client {
	return &Client{
		ID:       uuid.New(),
		Channels: make(map[string]bool),
		Outbound: make(chan Message, hub.buffer),
		done:     make(chan struct{}),
	}
}

func (hub *Hub) AddChannel(client *Client, channel string) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()

	client.Channels[channel] = true
	clients, ok := hub.subscriptions[channel]
	if !ok {
		clients = make(map[*Client]bool)
		hub.subscriptions[channel] = clients
	}
	clients[client] = true
	hub.logger.Debug("client subscribed", "clientID", client.ID, "channel", channel)
}

func (hub *Hub) detachLocked(client *Client, channel string) {
	if subs, ok := hub.subscriptions[channel]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(hub.subscriptions, channel)
		}
	}
}

func (hub *Hub) RemoveClient(client *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	for ch := range client.Channels {
		hub.detachLocked(client, ch)
	}
	client.Channels = make(map[string]bool)
}

// Subscribers returns the number of clients on channel.
func (hub *Hub) Subscribers(channel string) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.subscriptions[channel])
}

// Broadcast never blocks; a client with a full buffer loses the frame.
func (hub *Hub) Broadcast(msg Message) {
	if msg.Channel == "" {
		return
	}
	hub.mu.RLock()
	defer hub.mu.RUnlock()

	for c := range hub.subscriptions[msg.Channel] {
		select {
		case c.Outbound <- msg:
		default:
			hub.logger.Warn("dropping frame; outbound buffer full", "clientID", c.ID, "channel", msg.Channel, "event", msg.Event)
		}
	}
}

// Publish satisfies the emitter contract used by producers.
func (hub *Hub) Publish(_ context.Context, msg Message) error {
	hub.Broadcast(msg)
	return nil
}

// CloseClient detaches the client and closes its outbound channel. Safe to call twice.
func (hub *Hub) CloseClient(client *Client) {
	client.once.Do(func() {
		close(client.done)
		hub.RemoveClient(client)
		close(client.Outbound)
	})
}

// ServeHTTP streams the client's frames as server-sent events until the request
// context ends or the client is closed.
func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, client *Client) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(hub.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			hub.logger.Debug("stream context done", "clientID", client.ID, "err", ctx.Err())
			return
		case <-client.done:
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg, ok := <-client.Outbound:
			if !ok {
				return
			}
			if err := writeFrame(w, msg); err != nil {
				hub.logger.Warn("failed to write frame", "clientID", client.ID, "error", err)
				continue
			}
			flusher.Flush()
		}
	}
}

func writeFrame(w io.Writer, msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if msg.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", msg.ID); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
	return err
}

// Dial attaches a new client to scopes and returns it as a Stream.
func (hub *Hub) Dial(ctx context.Context, scopes []string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client := hub.NewClient()
	for _, s := range scopes {
		hub.AddChannel(client, s)
	}
	return &hubStream{hub: hub, client: client}, nil
}

type hubStream struct {
	hub    *Hub
	client *Client
}

func (s *hubStream) Recv(ctx context.Context) (Message, error) {
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case msg, ok := <-s.client.Outbound:
		if !ok {
			return Message{}, io.EOF
		}
		return msg, nil
	}
}

func (s *hubStream) Close() error {
	s.hub.CloseClient(s.client)
	return nil
}
