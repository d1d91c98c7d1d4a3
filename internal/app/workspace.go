package app

import (
	"context"
	"errors"

	"github.com/yungbote/studysync/internal/channel"
	"github.com/yungbote/studysync/internal/generation"
	"github.com/yungbote/studysync/internal/realtime"
)

// Workspace is one open workspace view: a channel handle with the generation
// trackers and progress books subscribed to it.
type Workspace struct {
	ID     string
	handle *channel.Handle
	app    *App
}

type subscription struct {
	domain   realtime.Domain
	handlers channel.Handlers
}

// OpenWorkspace connects to the workspace channel and routes its events into the
// app's read models.
func (a *App) OpenWorkspace(ctx context.Context, workspaceID string, opts ...channel.ConnectOption) (*Workspace, error) {
	h, err := a.Channels.Connect(ctx, workspaceID, opts...)
	if err != nil {
		return nil, err
	}
	w := &Workspace{ID: workspaceID, handle: h, app: a}

	subs := []subscription{
		{realtime.DomainWorksheets, a.Questions.Handlers()},
		{realtime.DomainFlashcards, a.Cards.Handlers()},
	}
	for _, d := range generation.Domains {
		subs = append(subs, subscription{d, a.Tracker.Handlers(workspaceID, d)})
	}
	for _, s := range subs {
		if _, err := h.Subscribe(s.domain, s.handlers); err != nil {
			return nil, errors.Join(err, h.Disconnect(ctx))
		}
	}
	return w, nil
}

// Connected reports whether pushes are currently arriving for this workspace.
func (w *Workspace) Connected() bool { return w.handle.Connected() }

// Generation returns the tracked lifecycle for one generated domain.
func (w *Workspace) Generation(d realtime.Domain) generation.Status {
	return w.app.Tracker.Status(w.ID, d)
}

// RequestGeneration marks d as requested for this workspace.
func (w *Workspace) RequestGeneration(d realtime.Domain) (generation.Status, error) {
	return w.app.Tracker.Request(w.ID, d)
}

// Close releases the workspace handle. Safe to call from inside an event handler
// when given the handler's ctx.
func (w *Workspace) Close(ctx context.Context) error {
	return w.handle.Disconnect(ctx)
}
