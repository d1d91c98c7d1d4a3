package generation

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/studysync/internal/channel"
	"github.com/yungbote/studysync/internal/notify"
	"github.com/yungbote/studysync/internal/observability"
	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

type State string

const (
	StateIdle       State = "idle"
	StateRequested  State = "requested"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

func (s State) Terminal() bool { return s == StateCompleted || s == StateFailed }

// Generating is true exactly in Requested and InProgress.
func (s State) Generating() bool { return s == StateRequested || s == StateInProgress }

// Status is the read model exposed to the UI.
type Status struct {
	State         State  `json:"state"`
	IsGenerating  bool   `json:"is_generating"`
	LastError     string `json:"last_error,omitempty"`
	Progress      int    `json:"progress"`
	Message       string `json:"message,omitempty"`
	ResultSummary string `json:"result_summary,omitempty"`
	JobID         string `json:"job_id,omitempty"`
	ArtifactID    string `json:"artifact_id,omitempty"`
}

// ArtifactRefresher reloads a workspace's artifact list from the external collaborator.
type ArtifactRefresher interface {
	RefreshArtifacts(ctx context.Context, workspaceID string, domain realtime.Domain) error
}

type RefresherFunc func(ctx context.Context, workspaceID string, domain realtime.Domain) error

func (f RefresherFunc) RefreshArtifacts(ctx context.Context, workspaceID string, domain realtime.Domain) error {
	return f(ctx, workspaceID, domain)
}

// Domains lists the domains with a generation lifecycle.
var Domains = []realtime.Domain{realtime.DomainFlashcards, realtime.DomainWorksheets, realtime.DomainPodcasts}

func isGenerationDomain(d realtime.Domain) bool {
	for _, g := range Domains {
		if g == d {
			return true
		}
	}
	return false
}

type key struct {
	workspace string
	domain    realtime.Domain
}

// Tracker runs one lifecycle per (workspace, domain).
type Tracker struct {
	log       *logger.Logger
	refresher ArtifactRefresher
	notifier  notify.Notifier
	metrics   *observability.Metrics

	mu   sync.Mutex
	jobs map[key]*Status
	// finished holds the JobID of the last job that reached a terminal state, so
	// replays of it cannot drive a later request.
	finished map[key]string

	refreshes singleflight.Group
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

type Option func(*Tracker)

func WithRefresher(r ArtifactRefresher) Option { return func(t *Tracker) { t.refresher = r } }

func WithNotifier(n notify.Notifier) Option {
	return func(t *Tracker) {
		if n != nil {
			t.notifier = n
		}
	}
}

func WithMetrics(m *observability.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

func NewTracker(log *logger.Logger, opts ...Option) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		log:      log.With("component", "GenerationTracker"),
		notifier: notify.Nop(),
		jobs:     make(map[key]*Status),
		finished: make(map[key]string),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) job(k key) *Status {
	st, ok := t.jobs[k]
	if !ok {
		st = &Status{State: StateIdle}
		t.jobs[k] = st
	}
	return st
}

// Request records an explicit user-initiated generation. It always resets the
// machine to Requested, clearing any previous error or result.
func (t *Tracker) Request(workspaceID string, d realtime.Domain) (Status, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return Status{}, errs.Newf(errs.KindInvalidArgument, "generation.Request", "workspace id required")
	}
	if !isGenerationDomain(d) {
		return Status{}, errs.Newf(errs.KindInvalidArgument, "generation.Request", "domain %q has no generation lifecycle", d)
	}
	t.mu.Lock()
	st := t.job(key{workspaceID, d})
	*st = Status{State: StateRequested}
	st.IsGenerating = true
	out := *st
	t.mu.Unlock()

	t.metrics.GenerationTransition(string(d), string(StateRequested))
	t.log.Debug("generation requested", "workspace", workspaceID, "domain", d)
	return out, nil
}

// Status returns the read model for (workspace, domain); unknown pairs are Idle.
func (t *Tracker) Status(workspaceID string, d realtime.Domain) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.jobs[key{workspaceID, d}]; ok {
		return *st
	}
	return Status{State: StateIdle}
}

// Apply advances the machine for ev's domain. Replayed events leave the state unchanged.
func (t *Tracker) Apply(ctx context.Context, workspaceID string, ev realtime.Event) Status {
	d := ev.Domain()
	if !isGenerationDomain(d) {
		return Status{State: StateIdle}
	}
	k := key{workspaceID, d}

	t.mu.Lock()
	st := t.job(k)
	from := st.State
	if from.Generating() && t.isFinishedReplay(k, st, ev) {
		out := *st
		t.mu.Unlock()
		t.log.Debug("ignoring replay of finished job", "workspace", workspaceID, "domain", d, "kind", ev.Kind())
		return out
	}
	refresh := false
	var failure string
	switch e := ev.(type) {
	case realtime.GenerationStarted:
		switch {
		case !from.Terminal():
			st.State = StateInProgress
			if e.JobID != "" {
				st.JobID = e.JobID
			}
		case e.JobID != "" && e.JobID != st.JobID:
			// A different job started server-side after ours finished.
			*st = Status{State: StateInProgress, JobID: e.JobID}
		}
	case realtime.GenerationInfo:
		if from == StateIdle || from.Generating() {
			st.State = StateInProgress
			st.Progress = max(st.Progress, e.Progress)
			if e.Message != "" {
				st.Message = e.Message
			}
		}
	case realtime.GenerationCompleted:
		switch {
		case from.Generating():
			if e.JobID != "" {
				st.JobID = e.JobID
			}
			st.State = StateCompleted
			st.Progress = 100
			st.ResultSummary = e.Summary
			st.ArtifactID = e.ArtifactID
			refresh = true
		case from == StateIdle:
			// Completed elsewhere; the artifact list is stale either way.
			refresh = true
		}
	case realtime.GenerationFailed:
		if from.Generating() {
			if e.JobID != "" {
				st.JobID = e.JobID
			}
			st.State = StateFailed
			failure = e.Error
			if failure == "" {
				failure = "Generation failed."
			}
			st.LastError = failure
		}
	}
	st.IsGenerating = st.State.Generating()
	to := st.State
	if to.Terminal() && !from.Terminal() && st.JobID != "" {
		t.finished[k] = st.JobID
	}
	out := *st
	t.mu.Unlock()

	if to != from {
		t.metrics.GenerationTransition(string(d), string(to))
		t.log.Debug("generation transition", "workspace", workspaceID, "domain", d, "from", from, "to", to, "kind", ev.Kind())
	}
	if failure != "" {
		t.notifier.Notify(notify.Notice{
			Kind:      errs.KindGenerationFailure,
			Workspace: workspaceID,
			Subject:   string(d),
			Message:   failure,
			Err:       errs.Newf(errs.KindGenerationFailure, "generation.Apply", "%s", failure),
		})
	}
	if refresh {
		t.refreshAsync(workspaceID, d)
	}
	return out
}

func eventJobID(ev realtime.Event) string {
	switch e := ev.(type) {
	case realtime.GenerationStarted:
		return e.JobID
	case realtime.GenerationInfo:
		return e.JobID
	case realtime.GenerationCompleted:
		return e.JobID
	case realtime.GenerationFailed:
		return e.JobID
	}
	return ""
}

// isFinishedReplay reports whether ev belongs to the job that already finished
// for k rather than to the one now being generated.
func (t *Tracker) isFinishedReplay(k key, st *Status, ev realtime.Event) bool {
	id := eventJobID(ev)
	return id != "" && id == t.finished[k] && id != st.JobID
}

// Handlers adapts the tracker to a channel subscription for d.
func (t *Tracker) Handlers(workspaceID string, d realtime.Domain) channel.Handlers {
	apply := func(ctx context.Context, ev realtime.Event) { t.Apply(ctx, workspaceID, ev) }
	switch d {
	case realtime.DomainPodcasts:
		return channel.Handlers{
			realtime.KindPodcastInfo:     apply,
			realtime.KindPodcastComplete: apply,
			realtime.KindPodcastError:    apply,
		}
	case realtime.DomainFlashcards, realtime.DomainWorksheets:
		return channel.Handlers{
			realtime.KindGenerationStart:    apply,
			realtime.KindInfo:               apply,
			realtime.KindGenerationComplete: apply,
			realtime.KindGenerationError:    apply,
		}
	default:
		return nil
	}
}

// Refresh reloads the artifact list now; concurrent calls for the same pair share one request.
func (t *Tracker) Refresh(ctx context.Context, workspaceID string, d realtime.Domain) error {
	if t.refresher == nil {
		return nil
	}
	ch := t.refreshes.DoChan(workspaceID+"/"+string(d), func() (any, error) {
		return nil, t.refresher.RefreshArtifacts(t.ctx, workspaceID, d)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) refreshAsync(workspaceID string, d realtime.Domain) {
	if t.refresher == nil {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.Refresh(t.ctx, workspaceID, d); err != nil {
			t.log.Warn("artifact refresh failed", "workspace", workspaceID, "domain", d, "error", err)
		}
	}()
}

// Wait blocks until background refreshes have finished.
func (t *Tracker) Wait() { t.wg.Wait() }

func (t *Tracker) Close() {
	t.cancel()
	t.wg.Wait()
}
