package channel

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/studysync/internal/notify"
	"github.com/yungbote/studysync/internal/observability"
	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

// ConnectivityFunc observes connectivity changes of a workspace channel.
type ConnectivityFunc func(workspaceID string, connected bool)

// Manager owns at most one live connection per workspace and multiplexes it
// across every domain subscribed for that workspace.
type Manager struct {
	transport realtime.Transport
	log       *logger.Logger
	notifier  notify.Notifier
	metrics   *observability.Metrics
	onConn    ConnectivityFunc

	initialBackoff time.Duration
	maxBackoff     time.Duration
	dialTimeout    time.Duration

	mu       sync.Mutex
	channels map[string]*workspaceChannel
	closed   bool
}

type Option func(*Manager)

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		if n != nil {
			m.notifier = n
		}
	}
}

func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

func WithConnectivityFunc(fn ConnectivityFunc) Option {
	return func(m *Manager) { m.onConn = fn }
}

// WithBackoff bounds the reconnect delay.
func WithBackoff(initial, max time.Duration) Option {
	return func(m *Manager) {
		if initial > 0 {
			m.initialBackoff = initial
		}
		if max >= initial && max > 0 {
			m.maxBackoff = max
		}
	}
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.dialTimeout = d
		}
	}
}

func NewManager(transport realtime.Transport, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		transport:      transport,
		log:            log.With("component", "ChannelManager"),
		notifier:       notify.Nop(),
		initialBackoff: 500 * time.Millisecond,
		maxBackoff:     30 * time.Second,
		dialTimeout:    10 * time.Second,
		channels:       make(map[string]*workspaceChannel),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type connectConfig struct {
	legacy []string
}

type ConnectOption func(*connectConfig)

// WithLegacyScope also listens on a raw chat channel id; frames on it route to the chat domain.
func WithLegacyScope(channelID string) ConnectOption {
	return func(c *connectConfig) {
		if id := strings.TrimSpace(channelID); id != "" {
			c.legacy = append(c.legacy, id)
		}
	}
}

// Connect returns a handle on the workspace channel, creating and dialing it when it
// is the first. A failed dial does not fail Connect: the handle reports
// Connected() == false, a connectivity notice is raised, and redial continues in the
// background. The error is only non-nil for invalid input or a closed manager.
func (m *Manager) Connect(ctx context.Context, workspaceID string, opts ...ConnectOption) (*Handle, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return nil, errs.Newf(errs.KindInvalidArgument, "channel.Connect", "workspace id required")
	}
	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errs.Newf(errs.KindInvalidArgument, "channel.Connect", "manager closed")
	}
	ch, exists := m.channels[workspaceID]
	if !exists {
		ch = newWorkspaceChannel(m, workspaceID, cfg.legacy)
		m.channels[workspaceID] = ch
	}
	ch.refs++
	m.mu.Unlock()

	if exists {
		ch.addScopes(cfg.legacy)
	} else {
		ch.start(ctx)
	}
	return &Handle{ch: ch}, nil
}

// Channels returns the number of live workspace channels.
func (m *Manager) Channels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels)
}

// Active reports whether workspaceID has a channel that has not been released.
func (m *Manager) Active(workspaceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.channels[workspaceID]
	return ok
}

func (m *Manager) release(ctx context.Context, ch *workspaceChannel) error {
	m.mu.Lock()
	ch.refs--
	last := ch.refs <= 0
	if last && m.channels[ch.workspaceID] == ch {
		delete(m.channels, ch.workspaceID)
	}
	m.mu.Unlock()
	if !last {
		return nil
	}
	return ch.stop(ctx)
}

// Close tears down every channel regardless of outstanding handles.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	chans := make([]*workspaceChannel, 0, len(m.channels))
	for id, ch := range m.channels {
		chans = append(chans, ch)
		delete(m.channels, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, ch := range chans {
		g.Go(func() error {
			ch.remove(ctx, func(*Subscription) bool { return true })
			return ch.stop(ctx)
		})
	}
	return g.Wait()
}

func (m *Manager) connectivity(workspaceID string, connected, changed bool) {
	if changed {
		m.metrics.ChannelConnected(connected)
	}
	if m.onConn != nil {
		m.onConn(workspaceID, connected)
	}
}
