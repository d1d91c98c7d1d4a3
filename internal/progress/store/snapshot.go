package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/progress"
)

// Snapshot persists the confirmed side of one learner's progress books.
type Snapshot struct {
	learnerID string
	questions QuestionProgressRepo
	cards     CardProgressRepo
	log       *logger.Logger
}

func NewSnapshot(db *gorm.DB, learnerID string, baseLog *logger.Logger) *Snapshot {
	log := baseLog.With("component", "ProgressSnapshot", "learner_id", learnerID)
	return &Snapshot{
		learnerID: learnerID,
		questions: NewQuestionProgressRepo(db, log),
		cards:     NewCardProgressRepo(db, log),
		log:       log,
	}
}

func (s *Snapshot) SaveQuestion(ctx context.Context, questionID string, rec progress.Confirmed[progress.Record]) error {
	return s.questions.Upsert(ctx, nil, &QuestionProgress{
		LearnerID:            s.learnerID,
		QuestionID:           questionID,
		Completed:            rec.Value.Completed,
		Correct:              rec.Value.Correct,
		ConsecutiveIncorrect: rec.Value.ConsecutiveIncorrect,
		UserAnswer:           rec.Value.UserAnswer,
		ServerUpdatedAt:      rec.UpdatedAt.UTC(),
		AckSeq:               rec.AckSeq,
	})
}

func (s *Snapshot) SaveCard(ctx context.Context, cardID string, rec progress.Confirmed[progress.CardProgress]) error {
	return s.cards.Upsert(ctx, nil, &CardProgress{
		LearnerID:            s.learnerID,
		CardID:               cardID,
		TimesStudied:         rec.Value.TimesStudied,
		MasteryLevel:         rec.Value.MasteryLevel,
		ConsecutiveIncorrect: rec.Value.ConsecutiveIncorrect,
		ServerUpdatedAt:      rec.UpdatedAt.UTC(),
		AckSeq:               rec.AckSeq,
	})
}

// LoadQuestions returns the stored records keyed by question id.
//
// AckSeq values belong to the process that wrote them, so they are dropped on load:
// a fresh ledger restarts its sequence and an old ack must not settle a new write.
func (s *Snapshot) LoadQuestions(ctx context.Context) (map[string]progress.Confirmed[progress.Record], error) {
	rows, err := s.questions.GetByLearnerID(ctx, nil, s.learnerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]progress.Confirmed[progress.Record], len(rows))
	for _, row := range rows {
		out[row.QuestionID] = progress.Confirmed[progress.Record]{
			Value: progress.Record{
				Completed:            row.Completed,
				Correct:              row.Correct,
				ConsecutiveIncorrect: row.ConsecutiveIncorrect,
				UserAnswer:           row.UserAnswer,
			},
			UpdatedAt: row.ServerUpdatedAt,
		}
	}
	return out, nil
}

func (s *Snapshot) LoadCards(ctx context.Context) (map[string]progress.Confirmed[progress.CardProgress], error) {
	rows, err := s.cards.GetByLearnerID(ctx, nil, s.learnerID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]progress.Confirmed[progress.CardProgress], len(rows))
	for _, row := range rows {
		out[row.CardID] = progress.Confirmed[progress.CardProgress]{
			Value: progress.CardProgress{
				TimesStudied:         row.TimesStudied,
				MasteryLevel:         row.MasteryLevel,
				ConsecutiveIncorrect: row.ConsecutiveIncorrect,
			},
			UpdatedAt: row.ServerUpdatedAt,
		}
	}
	return out, nil
}

// QuestionSink adapts SaveQuestion to a book confirmation callback; failures are logged.
func (s *Snapshot) QuestionSink(ctx context.Context) progress.ConfirmFunc[progress.Record] {
	return func(id string, rec progress.Confirmed[progress.Record]) {
		if err := s.SaveQuestion(ctx, id, rec); err != nil {
			s.log.Warn("persist question progress failed", "question_id", id, "error", err)
		}
	}
}

func (s *Snapshot) CardSink(ctx context.Context) progress.ConfirmFunc[progress.CardProgress] {
	return func(id string, rec progress.Confirmed[progress.CardProgress]) {
		if err := s.SaveCard(ctx, id, rec); err != nil {
			s.log.Warn("persist card progress failed", "card_id", id, "error", err)
		}
	}
}
