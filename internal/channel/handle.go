package channel

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/realtime"
)

// Handler receives one decoded event. ctx marks the dispatch loop, so a handler may
// pass it to Unsubscribe/Disconnect without deadlocking.
type Handler func(ctx context.Context, ev realtime.Event)

// Handlers maps the kinds a domain cares about to their callbacks.
type Handlers map[realtime.Kind]Handler

// Subscription is one registered handler set. Close releases it.
type Subscription struct {
	ID       uuid.UUID
	Domain   realtime.Domain
	handle   *Handle
	handlers Handlers
	active   atomic.Bool
}

// Close stops further invocations of this subscription's handlers before returning.
func (s *Subscription) Close(ctx context.Context) {
	if s == nil || s.handle == nil {
		return
	}
	s.handle.ch.remove(ctx, func(rec *Subscription) bool { return rec == s })
}

// Active reports whether the subscription can still receive events.
func (s *Subscription) Active() bool { return s != nil && s.active.Load() }

// Handle is one consumer's reference to a shared workspace channel.
type Handle struct {
	ch     *workspaceChannel
	closed atomic.Bool
}

func (h *Handle) WorkspaceID() string { return h.ch.workspaceID }

// Connected reports live connectivity. When false, consumers should fall back to
// refetching from the collaborator directly.
func (h *Handle) Connected() bool { return !h.closed.Load() && h.ch.connected.Load() }

// Subscribe registers handlers for domain. Kinds outside the domain's vocabulary are rejected.
func (h *Handle) Subscribe(domain realtime.Domain, handlers Handlers) (*Subscription, error) {
	if h.closed.Load() {
		return nil, errs.Newf(errs.KindInvalidArgument, "channel.Subscribe", "handle for %s is disconnected", h.ch.workspaceID)
	}
	if len(handlers) == 0 {
		return nil, errs.Newf(errs.KindInvalidArgument, "channel.Subscribe", "no handlers for %s", domain)
	}
	own := make(Handlers, len(handlers))
	for kind, fn := range handlers {
		if !realtime.Known(domain, kind) {
			return nil, errs.Newf(errs.KindInvalidArgument, "channel.Subscribe", "%s has no event kind %q", domain, kind)
		}
		if fn == nil {
			return nil, errs.Newf(errs.KindInvalidArgument, "channel.Subscribe", "nil handler for %s:%s", domain, kind)
		}
		own[kind] = fn
	}
	sub := &Subscription{ID: uuid.New(), Domain: domain, handle: h, handlers: own}
	sub.active.Store(true)
	h.ch.add(sub)
	return sub, nil
}

// Unsubscribe removes every subscription this handle holds for domain. No handler
// for those subscriptions starts after it returns.
func (h *Handle) Unsubscribe(ctx context.Context, domain realtime.Domain) {
	h.ch.remove(ctx, func(rec *Subscription) bool { return rec.handle == h && rec.Domain == domain })
}

// Disconnect releases the handle. The connection is torn down when the last handle
// for the workspace disconnects.
func (h *Handle) Disconnect(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	h.ch.remove(ctx, func(rec *Subscription) bool { return rec.handle == h })
	return h.ch.manager.release(ctx, h.ch)
}
