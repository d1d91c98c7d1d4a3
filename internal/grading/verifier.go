package grading

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/studysync/internal/notify"
	"github.com/yungbote/studysync/internal/observability"
	errs "github.com/yungbote/studysync/internal/pkg/errors"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/progress"
)

type RemoteRequest struct {
	WorksheetID string `json:"worksheetId"`
	QuestionID  string `json:"questionId"`
	Answer      string `json:"answer"`
}

type RemoteResult struct {
	Correct   bool
	Breakdown []Criterion
	// Progress is the server's record after grading; nil when the response omitted it.
	Progress  *progress.Record
	UpdatedAt time.Time
}

// RemoteGrader grades open-ended answers on the external collaborator.
type RemoteGrader interface {
	Grade(ctx context.Context, req RemoteRequest) (RemoteResult, error)
}

type ProgressWrite struct {
	ProblemID string `json:"problemId"`
	Completed bool   `json:"completed"`
	Correct   bool   `json:"correct"`
	Answer    string `json:"answer"`
}

type WriteResult struct {
	Record    progress.Record
	UpdatedAt time.Time
}

// ProgressWriter persists deterministic-type verdicts.
type ProgressWriter interface {
	WriteProgress(ctx context.Context, w ProgressWrite) (WriteResult, error)
}

type Verifier struct {
	log      *logger.Logger
	book     *progress.QuestionBook
	remote   RemoteGrader
	writer   ProgressWriter
	notifier notify.Notifier
	metrics  *observability.Metrics
	tracer   trace.Tracer

	timeout      time.Duration
	writeTries   uint
	writeBackoff time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Verifier)

func WithRemoteGrader(g RemoteGrader) Option { return func(v *Verifier) { v.remote = g } }

func WithProgressWriter(w ProgressWriter) Option { return func(v *Verifier) { v.writer = w } }

func WithNotifier(n notify.Notifier) Option {
	return func(v *Verifier) {
		if n != nil {
			v.notifier = n
		}
	}
}

func WithMetrics(m *observability.Metrics) Option { return func(v *Verifier) { v.metrics = m } }

// WithTimeout bounds one remote grading call.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// WithWriteRetry sets the attempts and initial delay for durable progress writes.
func WithWriteRetry(tries int, initial time.Duration) Option {
	return func(v *Verifier) {
		if tries > 0 {
			v.writeTries = uint(tries)
		}
		if initial > 0 {
			v.writeBackoff = initial
		}
	}
}

func NewVerifier(book *progress.QuestionBook, log *logger.Logger, opts ...Option) *Verifier {
	ctx, cancel := context.WithCancel(context.Background())
	v := &Verifier{
		log:          log.With("component", "Verifier"),
		book:         book,
		notifier:     notify.Nop(),
		tracer:       otel.Tracer(observability.TracerName),
		timeout:      30 * time.Second,
		writeTries:   3,
		writeBackoff: 250 * time.Millisecond,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify grades answer without view scoping. Local types never block.
func (v *Verifier) Verify(ctx context.Context, q Question, answer string) (Verdict, error) {
	return v.verify(ctx, q, answer, nil)
}

// Open returns a session scoped to one question view.
func (v *Verifier) Open() *Session {
	return &Session{v: v, latest: make(map[string]uint64)}
}

// Wait blocks until every background durable write has finished.
func (v *Verifier) Wait() { v.wg.Wait() }

// Close abandons pending write retries and waits for them to exit.
func (v *Verifier) Close() {
	v.cancel()
	v.wg.Wait()
}

func (v *Verifier) verify(ctx context.Context, q Question, answer string, guard func() error) (Verdict, error) {
	if strings.TrimSpace(q.ID) == "" {
		return Verdict{}, errs.Newf(errs.KindInvalidArgument, "grading.Verify", "question id required")
	}
	start := v.now()
	if correct, ok := GradeLocal(q, answer); ok {
		if guard != nil {
			if err := guard(); err != nil {
				return Verdict{}, err
			}
		}
		verdict := v.applyLocal(q, answer, correct)
		v.metrics.ObserveGrading(string(ModeLocal), outcome(correct), v.now().Sub(start))
		return verdict, nil
	}
	return v.gradeRemote(ctx, q, answer, guard, start)
}

func (v *Verifier) applyLocal(q Question, answer string, correct bool) Verdict {
	rec, seq := v.book.ApplyLocal(q.ID, progress.Verdict{Correct: correct, Answer: answer})
	if v.writer != nil {
		v.wg.Add(1)
		go v.persist(q.ID, answer, rec, seq)
	}
	return Verdict{QuestionID: q.ID, Mode: ModeLocal, Correct: correct, Record: rec}
}

// persist runs the durable write in the background. A failure is logged and
// surfaced; the optimistic record stays as applied.
func (v *Verifier) persist(questionID, answer string, rec progress.Record, seq uint64) {
	defer v.wg.Done()
	ctx, span := v.tracer.Start(v.ctx, "progress.durable_write", trace.WithAttributes(
		attribute.String("question.id", questionID),
		attribute.Int64("progress.seq", int64(seq)),
	))
	defer span.End()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = v.writeBackoff

	attempt := 0
	res, err := backoff.Retry(ctx, func() (WriteResult, error) {
		attempt++
		res, err := v.writer.WriteProgress(ctx, ProgressWrite{
			ProblemID: questionID,
			Completed: rec.Completed,
			Correct:   rec.Correct,
			Answer:    answer,
		})
		if errors.Is(err, errs.ErrInvalidArgument) || errors.Is(err, errs.ErrNotFound) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(v.writeTries), backoff.WithNotify(func(err error, next time.Duration) {
		v.log.Debug("durable write retry", "question_id", questionID, "attempt", attempt, "next", next, "error", err)
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "durable write failed")
		v.metrics.DurableWrite("failure")
		v.log.Warn("durable progress write failed", "question_id", questionID, "attempts", attempt, "error", err)
		v.notifier.Notify(notify.Notice{
			Kind:    errs.KindDurableWrite,
			Subject: questionID,
			Message: "Your progress could not be saved yet.",
			Err:     errs.New(errs.KindDurableWrite, "grading.persist", err),
		})
		return
	}
	v.metrics.DurableWrite("success")
	updatedAt := res.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = v.now()
	}
	v.book.ApplyServer(questionID, progress.Confirmed[progress.Record]{Value: res.Record, UpdatedAt: updatedAt, AckSeq: seq})
}

func (v *Verifier) gradeRemote(ctx context.Context, q Question, answer string, guard func() error, start time.Time) (Verdict, error) {
	const op = "grading.Remote"
	if v.remote == nil {
		return Verdict{}, v.gradingFailed(q, errs.Newf(errs.KindGradingFailure, op, "no remote grader configured for %s", q.Type))
	}

	// The call outlives a torn-down view; its result is discarded by guard instead.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.timeout)
	defer cancel()
	callCtx, span := v.tracer.Start(callCtx, "grading.remote", trace.WithAttributes(
		attribute.String("question.id", q.ID),
		attribute.String("question.type", string(q.Type)),
		attribute.String("worksheet.id", q.WorksheetID),
	))
	defer span.End()

	res, err := v.remote.Grade(callCtx, RemoteRequest{WorksheetID: q.WorksheetID, QuestionID: q.ID, Answer: answer})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote grading failed")
		v.metrics.ObserveGrading(string(ModeRemote), "failure", v.now().Sub(start))
		return Verdict{}, v.gradingFailed(q, errs.New(errs.KindGradingFailure, op, err))
	}
	span.SetAttributes(attribute.Bool("grading.correct", res.Correct))
	v.metrics.ObserveGrading(string(ModeRemote), outcome(res.Correct), v.now().Sub(start))

	if guard != nil {
		if err := guard(); err != nil {
			v.log.Debug("discarding remote verdict", "question_id", q.ID, "reason", errs.KindOf(err))
			return Verdict{}, err
		}
	}

	rec, seq := v.book.ApplyLocal(q.ID, progress.Verdict{Correct: res.Correct, Answer: answer})
	if res.Progress != nil {
		updatedAt := res.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = v.now()
		}
		rec = v.book.ApplyServer(q.ID, progress.Confirmed[progress.Record]{Value: *res.Progress, UpdatedAt: updatedAt, AckSeq: seq})
	}
	return Verdict{QuestionID: q.ID, Mode: ModeRemote, Correct: res.Correct, Breakdown: res.Breakdown, Record: rec}, nil
}

func (v *Verifier) gradingFailed(q Question, err error) error {
	v.log.Warn("remote grading failed", "question_id", q.ID, "error", err)
	v.notifier.Notify(notify.Notice{
		Kind:    errs.KindGradingFailure,
		Subject: q.ID,
		Message: "We couldn't grade that answer. Please try again.",
		Err:     err,
	})
	return err
}

func outcome(correct bool) string {
	if correct {
		return "correct"
	}
	return "incorrect"
}

// Session tracks submissions from one question view. A newer submission for the
// same question supersedes an older pending one; Close discards everything pending.
type Session struct {
	v *Verifier

	mu     sync.Mutex
	seq    uint64
	latest map[string]uint64
	closed bool
}

func (s *Session) Verify(ctx context.Context, q Question, answer string) (Verdict, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Verdict{}, errs.Newf(errs.KindViewClosed, "grading.Session", "session closed")
	}
	s.seq++
	token := s.seq
	s.latest[q.ID] = token
	s.mu.Unlock()

	return s.v.verify(ctx, q, answer, func() error { return s.check(q.ID, token) })
}

func (s *Session) check(questionID string, token uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.Newf(errs.KindViewClosed, "grading.Session", "view closed before verdict for %s", questionID)
	}
	if s.latest[questionID] != token {
		return errs.New(errs.KindSuperseded, "grading.Session", fmt.Errorf("newer submission for %s", questionID))
	}
	return nil
}

// Close tears the view down; results arriving later are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
