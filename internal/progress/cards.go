package progress

import (
	"context"

	"github.com/yungbote/studysync/internal/channel"
	"github.com/yungbote/studysync/internal/pkg/logger"
	"github.com/yungbote/studysync/internal/realtime"
)

type CardProgress struct {
	TimesStudied         int `json:"times_studied"`
	MasteryLevel         int `json:"mastery_level"`
	ConsecutiveIncorrect int `json:"consecutive_incorrect"`
}

type CardStatus string

const (
	StatusNew       CardStatus = "new"
	StatusLearning  CardStatus = "learning"
	StatusReviewing CardStatus = "reviewing"
	StatusMastered  CardStatus = "mastered"
)

const (
	masteredAt  = 80
	reviewingAt = 40

	masteryGain = 20
	masteryLoss = 15
)

// StatusOf bands a card's progress.
func StatusOf(p CardProgress) CardStatus {
	switch {
	case p.TimesStudied <= 0:
		return StatusNew
	case p.MasteryLevel >= masteredAt:
		return StatusMastered
	case p.MasteryLevel >= reviewingAt:
		return StatusReviewing
	default:
		return StatusLearning
	}
}

// Study applies one study attempt to p.
func Study(p CardProgress, correct bool) CardProgress {
	p.TimesStudied = max(p.TimesStudied, 0) + 1
	if correct {
		p.MasteryLevel = min(p.MasteryLevel+masteryGain, 100)
	} else {
		p.MasteryLevel = max(p.MasteryLevel-masteryLoss, 0)
	}
	p.ConsecutiveIncorrect = Streak(p.ConsecutiveIncorrect, correct)
	return p
}

// CardBook reconciles flashcard progress. Mastery moves only through RecordStudy.
type CardBook struct {
	log       *logger.Logger
	ledger    *Ledger[string, CardProgress]
	onConfirm ConfirmFunc[CardProgress]
}

func NewCardBook(log *logger.Logger, onConfirm ConfirmFunc[CardProgress], opts ...BookOption) *CardBook {
	var cfg bookConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CardBook{
		log:       log.With("component", "CardBook"),
		ledger:    NewLedger[string, CardProgress](cfg.now),
		onConfirm: onConfirm,
	}
}

// RecordStudy applies an optimistic study attempt.
func (b *CardBook) RecordStudy(cardID string, correct bool) (CardProgress, uint64) {
	return b.ledger.ApplyLocal(cardID, func(prev CardProgress, _ bool) CardProgress {
		return Study(prev, correct)
	})
}

func (b *CardBook) ApplyServer(cardID string, rec Confirmed[CardProgress]) CardProgress {
	rec.Value.MasteryLevel = min(max(rec.Value.MasteryLevel, 0), 100)
	rec.Value.TimesStudied = max(rec.Value.TimesStudied, 0)
	rec.Value.ConsecutiveIncorrect = max(rec.Value.ConsecutiveIncorrect, 0)
	rec = b.ledger.Stamp(rec)
	v, changed := b.ledger.ApplyServer(cardID, rec)
	if changed && b.onConfirm != nil {
		b.onConfirm(cardID, rec)
	}
	return v
}

func (b *CardBook) Get(cardID string) (CardProgress, bool) {
	return b.ledger.Get(cardID)
}

// Status derives the band from the visible progress on every call; unknown cards are New.
func (b *CardBook) Status(cardID string) CardStatus {
	p, _ := b.ledger.Get(cardID)
	return StatusOf(p)
}

func (b *CardBook) Pending(cardID string) bool {
	return b.ledger.Pending(cardID)
}

func (b *CardBook) Restore(recs map[string]Confirmed[CardProgress]) {
	for id, rec := range recs {
		b.ledger.ApplyServer(id, rec)
	}
}

func (b *CardBook) Confirmed() map[string]Confirmed[CardProgress] {
	return b.ledger.Confirmed()
}

// Handlers consumes flashcards card_progress pushes.
func (b *CardBook) Handlers() channel.Handlers {
	return channel.Handlers{
		realtime.KindCardProgress: func(_ context.Context, ev realtime.Event) {
			p, ok := ev.(realtime.CardProgressPushed)
			if !ok {
				return
			}
			b.ApplyServer(p.CardID, Confirmed[CardProgress]{
				Value: CardProgress{
					TimesStudied:         p.TimesStudied,
					MasteryLevel:         p.MasteryLevel,
					ConsecutiveIncorrect: p.ConsecutiveIncorrect,
				},
				UpdatedAt: p.UpdatedAt,
			})
		},
	}
}
