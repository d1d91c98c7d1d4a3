package notify

import (
	"sync"

	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/logger"
)

// Notice is a dismissible, non-fatal notification for the UI layer.
type Notice struct {
	Kind      errs.Kind
	Workspace string
	Subject   string
	Message   string
	Err       error
}

type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type nop struct{}

func (nop) Notify(Notice) {}

// Nop discards notices.
func Nop() Notifier { return nop{} }

type logNotifier struct {
	log  *logger.Logger
	next Notifier
}

// Log writes every notice at warn level before handing it to next (which may be nil).
func Log(log *logger.Logger, next Notifier) Notifier {
	return &logNotifier{log: log.With("component", "Notifier"), next: next}
}

func (l *logNotifier) Notify(n Notice) {
	l.log.Warn(n.Message, "kind", string(n.Kind), "workspace", n.Workspace, "subject", n.Subject, "error", n.Err)
	if l.next != nil {
		l.next.Notify(n)
	}
}

// Recorder keeps every notice; handy for hosts that poll and for tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Drain returns and clears the recorded notices.
func (r *Recorder) Drain() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.notices
	r.notices = nil
	return out
}
