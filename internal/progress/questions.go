package progress

import (
	"context"
	"time"

	"github.com/yungbote/studysync/internal/channel"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

// Record is the per-question progress of one learner.
type Record struct {
	Completed            bool   `json:"completed"`
	Correct              bool   `json:"correct"`
	ConsecutiveIncorrect int    `json:"consecutive_incorrect"`
	UserAnswer           string `json:"user_answer"`
}

// Verdict is what grading hands to the reconciler.
type Verdict struct {
	Correct bool
	Answer  string
}

// Streak applies the consecutive-incorrect rule.
func Streak(prev int, correct bool) int {
	if correct {
		return 0
	}
	return max(prev, 0) + 1
}

// ConfirmFunc observes every change to the confirmed side of a book.
type ConfirmFunc[V any] func(id string, rec Confirmed[V])

// QuestionBook reconciles worksheet question progress.
type QuestionBook struct {
	log       *logger.Logger
	ledger    *Ledger[string, Record]
	onConfirm ConfirmFunc[Record]
}

type BookOption func(*bookConfig)

type bookConfig struct {
	now func() time.Time
}

// WithClock overrides the clock used to stamp local writes.
func WithClock(now func() time.Time) BookOption {
	return func(c *bookConfig) { c.now = now }
}

func NewQuestionBook(log *logger.Logger, onConfirm ConfirmFunc[Record], opts ...BookOption) *QuestionBook {
	var cfg bookConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &QuestionBook{
		log:       log.With("component", "QuestionBook"),
		ledger:    NewLedger[string, Record](cfg.now),
		onConfirm: onConfirm,
	}
}

// ApplyLocal marks the question completed with the verdict's correctness and
// returns the optimistic record with the sequence to acknowledge.
func (b *QuestionBook) ApplyLocal(questionID string, v Verdict) (Record, uint64) {
	return b.ledger.ApplyLocal(questionID, func(prev Record, _ bool) Record {
		return Record{
			Completed:            true,
			Correct:              v.Correct,
			ConsecutiveIncorrect: Streak(prev.ConsecutiveIncorrect, v.Correct),
			UserAnswer:           v.Answer,
		}
	})
}

// ApplyServer merges an authoritative record and returns the visible record.
func (b *QuestionBook) ApplyServer(questionID string, rec Confirmed[Record]) Record {
	rec.Value.ConsecutiveIncorrect = max(rec.Value.ConsecutiveIncorrect, 0)
	rec = b.ledger.Stamp(rec)
	v, changed := b.ledger.ApplyServer(questionID, rec)
	if changed && b.onConfirm != nil {
		b.onConfirm(questionID, rec)
	}
	return v
}

func (b *QuestionBook) Get(questionID string) (Record, bool) {
	return b.ledger.Get(questionID)
}

func (b *QuestionBook) Pending(questionID string) bool {
	return b.ledger.Pending(questionID)
}

// Restore seeds confirmed records, typically from a durable snapshot.
func (b *QuestionBook) Restore(recs map[string]Confirmed[Record]) {
	for id, rec := range recs {
		b.ledger.ApplyServer(id, rec)
	}
}

func (b *QuestionBook) Confirmed() map[string]Confirmed[Record] {
	return b.ledger.Confirmed()
}

// Handlers consumes worksheets progress_update pushes.
func (b *QuestionBook) Handlers() channel.Handlers {
	return channel.Handlers{
		realtime.KindProgressUpdate: func(_ context.Context, ev realtime.Event) {
			p, ok := ev.(realtime.ProgressPushed)
			if !ok {
				return
			}
			visible := b.ApplyServer(p.QuestionID, Confirmed[Record]{
				Value: Record{
					Completed:            p.Completed,
					Correct:              p.Correct,
					ConsecutiveIncorrect: p.ConsecutiveIncorrect,
					UserAnswer:           p.UserAnswer,
				},
				UpdatedAt: p.UpdatedAt,
			})
			b.log.Debug("progress push merged", "question_id", p.QuestionID, "completed", visible.Completed, "correct", visible.Correct)
		},
	}
}
