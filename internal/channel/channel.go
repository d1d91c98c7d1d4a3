package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/yungbote/studysync/internal/notify"
	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/ctxutil"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

// workspaceChannel is the shared state behind every Handle for one workspace.
//
// Locking: dispatchMu is held by the loop for the whole dispatch of one event.
// Removals from outside the loop take it first, so once they return no handler of
// a removed subscription can be running or about to run. Removals from inside a
// handler (ctx marked by ctxutil.WithLoop) skip it and rely on the active flag,
// which dispatch checks before every call.
type workspaceChannel struct {
	manager     *Manager
	workspaceID string
	log         *logger.Logger

	refs int // guarded by manager.mu

	dispatchMu sync.Mutex

	regMu  sync.RWMutex
	subs   map[realtime.Domain][]*Subscription
	scopes []string
	legacy map[string]bool

	connected atomic.Bool
	outage    atomic.Bool

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	streamMu sync.Mutex
	stream   context.CancelFunc // cancels the current stream's receive loop
}

func newWorkspaceChannel(m *Manager, workspaceID string, legacy []string) *workspaceChannel {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &workspaceChannel{
		manager:     m,
		workspaceID: workspaceID,
		log:         m.log.With("workspace", workspaceID),
		subs:        make(map[realtime.Domain][]*Subscription),
		scopes:      []string{realtime.WorkspaceChannel(workspaceID)},
		legacy:      make(map[string]bool),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	for _, id := range legacy {
		if !ch.legacy[id] {
			ch.legacy[id] = true
			ch.scopes = append(ch.scopes, id)
		}
	}
	return ch
}

func (c *workspaceChannel) snapshotScopes() []string {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	return slices.Clone(c.scopes)
}

// addScopes extends the listened scopes and forces a redial when anything changed.
func (c *workspaceChannel) addScopes(ids []string) {
	changed := false
	c.regMu.Lock()
	for _, id := range ids {
		if !c.legacy[id] {
			c.legacy[id] = true
			c.scopes = append(c.scopes, id)
			changed = true
		}
	}
	c.regMu.Unlock()
	if !changed {
		return
	}
	c.streamMu.Lock()
	if c.stream != nil {
		c.stream()
	}
	c.streamMu.Unlock()
}

// start performs the first dial inline so Connected() is meaningful as soon as
// Connect returns, then hands over to the background loop.
func (c *workspaceChannel) start(ctx context.Context) {
	stream, err := c.dial(ctx)
	if err != nil {
		c.markDown(err)
	} else {
		c.markUp(false)
	}
	go c.run(stream)
}

func (c *workspaceChannel) dial(ctx context.Context) (realtime.Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctxutil.Default(ctx), c.manager.dialTimeout)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()
	return c.manager.transport.Dial(dialCtx, c.snapshotScopes())
}

func (c *workspaceChannel) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.manager.initialBackoff
	b.MaxInterval = c.manager.maxBackoff
	return b
}

func (c *workspaceChannel) run(stream realtime.Stream) {
	defer close(c.done)
	bo := c.newBackoff()
	rescoped := false
	for {
		if stream != nil {
			err := c.consume(stream)
			_ = stream.Close()
			stream = nil
			if c.ctx.Err() != nil {
				return
			}
			rescoped = errors.Is(err, errRescope)
			if rescoped {
				c.log.Debug("redialing with updated scopes")
			} else {
				c.markDown(err)
				if !c.wait(bo.NextBackOff()) {
					return
				}
			}
		}

		s, err := c.dial(c.ctx)
		if c.ctx.Err() != nil {
			if s != nil {
				_ = s.Close()
			}
			return
		}
		if err != nil {
			rescoped = false
			c.markDown(err)
			if !c.wait(bo.NextBackOff()) {
				return
			}
			continue
		}
		bo.Reset()
		c.markUp(!rescoped)
		rescoped = false
		stream = s
	}
}

func (c *workspaceChannel) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var errRescope = errors.New("scopes changed")

func (c *workspaceChannel) consume(stream realtime.Stream) error {
	streamCtx, cancel := context.WithCancelCause(c.ctx)
	c.streamMu.Lock()
	c.stream = func() { cancel(errRescope) }
	c.streamMu.Unlock()
	defer func() {
		c.streamMu.Lock()
		c.stream = nil
		c.streamMu.Unlock()
		cancel(nil)
	}()

	for {
		msg, err := stream.Recv(streamCtx)
		if err != nil {
			if cause := context.Cause(streamCtx); errors.Is(cause, errRescope) {
				return errRescope
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("stream closed by server")
			}
			return err
		}
		c.dispatch(msg)
	}
}

func (c *workspaceChannel) markUp(reconnect bool) {
	changed := !c.connected.Swap(true)
	c.outage.Store(false)
	if reconnect {
		c.manager.metrics.Reconnect()
		c.log.Info("channel re-established", "domains", c.domains())
	} else {
		c.log.Debug("channel connected")
	}
	c.manager.connectivity(c.workspaceID, true, changed)
}

// markDown flips connectivity off and raises one notice per outage, not per retry.
func (c *workspaceChannel) markDown(err error) {
	changed := c.connected.Swap(false)
	if c.outage.Swap(true) {
		c.log.Debug("redial failed", "error", err)
		return
	}
	c.log.Warn("channel unavailable; falling back to direct refresh", "error", err)
	c.manager.notifier.Notify(notify.Notice{
		Kind:      errs.KindConnectivity,
		Workspace: c.workspaceID,
		Subject:   realtime.WorkspaceChannel(c.workspaceID),
		Message:   "Live updates are unavailable; data will refresh on demand.",
		Err:       errs.New(errs.KindConnectivity, "channel.dial", err),
	})
	c.manager.connectivity(c.workspaceID, false, changed)
}

func (c *workspaceChannel) domains() []realtime.Domain {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	out := make([]realtime.Domain, 0, len(c.subs))
	for d, recs := range c.subs {
		if len(recs) > 0 {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}

func (c *workspaceChannel) dispatch(msg realtime.Message) {
	c.regMu.RLock()
	fallback := realtime.Domain("")
	known := slices.Contains(c.scopes, msg.Channel)
	if c.legacy[msg.Channel] {
		fallback = realtime.DomainChat
	}
	c.regMu.RUnlock()
	if !known {
		c.manager.metrics.EventDropped("foreign_channel")
		c.log.Debug("dropping frame for foreign channel", "channel", msg.Channel, "event", msg.Event)
		return
	}

	ev, err := realtime.Decode(msg, fallback)
	if err != nil {
		c.manager.metrics.EventDropped("decode")
		c.log.Warn("dropping undecodable frame", "event", msg.Event, "error", err)
		return
	}

	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	c.regMu.RLock()
	recs := slices.Clone(c.subs[ev.Domain()])
	c.regMu.RUnlock()

	loopCtx := ctxutil.WithLoop(c.ctx, c)
	for _, rec := range recs {
		if !rec.active.Load() {
			continue
		}
		fn := rec.handlers[ev.Kind()]
		if fn == nil {
			continue
		}
		c.invoke(loopCtx, rec, fn, ev)
	}
	c.manager.metrics.EventDispatched(string(ev.Domain()), string(ev.Kind()))
}

func (c *workspaceChannel) invoke(ctx context.Context, rec *Subscription, fn Handler, ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked", "domain", rec.Domain, "kind", ev.Kind(), "subscription", rec.ID, "panic", r)
		}
	}()
	fn(ctx, ev)
}

func (c *workspaceChannel) add(sub *Subscription) {
	c.regMu.Lock()
	c.subs[sub.Domain] = append(c.subs[sub.Domain], sub)
	c.regMu.Unlock()
}

func (c *workspaceChannel) remove(ctx context.Context, match func(*Subscription) bool) {
	if !ctxutil.OnLoop(ctx, c) {
		c.dispatchMu.Lock()
		defer c.dispatchMu.Unlock()
	}
	c.regMu.Lock()
	defer c.regMu.Unlock()
	for d, recs := range c.subs {
		kept := recs[:0:0]
		for _, rec := range recs {
			if match(rec) {
				rec.active.Store(false)
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) == 0 {
			delete(c.subs, d)
		} else {
			c.subs[d] = kept
		}
	}
}

// stop cancels the loop and, when called from outside it, waits for it to exit.
func (c *workspaceChannel) stop(ctx context.Context) error {
	c.cancel()
	if c.connected.Swap(false) {
		c.manager.connectivity(c.workspaceID, false, true)
	}
	if ctxutil.OnLoop(ctx, c) {
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctxutil.Default(ctx).Done():
		return ctx.Err()
	}
}
