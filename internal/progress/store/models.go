package store

import (
	"time"

	"github.com/google/uuid"
)

// QuestionProgress is the confirmed progress of one learner on one worksheet question.
type QuestionProgress struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID            string    `gorm:"column:learner_id;not null;index:idx_question_progress_learner_question,unique" json:"learner_id"`
	QuestionID           string    `gorm:"column:question_id;not null;index:idx_question_progress_learner_question,unique" json:"question_id"`
	Completed            bool      `gorm:"column:completed;not null;default:false" json:"completed"`
	Correct              bool      `gorm:"column:correct;not null;default:false" json:"correct"`
	ConsecutiveIncorrect int       `gorm:"column:consecutive_incorrect;not null;default:0" json:"consecutive_incorrect"`
	UserAnswer           string    `gorm:"column:user_answer" json:"user_answer"`
	ServerUpdatedAt      time.Time `gorm:"column:server_updated_at" json:"server_updated_at"`
	AckSeq               uint64    `gorm:"column:ack_seq;not null;default:0" json:"ack_seq"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time `gorm:"not null" json:"updated_at"`
}

func (QuestionProgress) TableName() string { return "question_progress" }

// CardProgress is the confirmed progress of one learner on one flashcard.
type CardProgress struct {
	ID                   uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	LearnerID            string    `gorm:"column:learner_id;not null;index:idx_card_progress_learner_card,unique" json:"learner_id"`
	CardID               string    `gorm:"column:card_id;not null;index:idx_card_progress_learner_card,unique" json:"card_id"`
	TimesStudied         int       `gorm:"column:times_studied;not null;default:0" json:"times_studied"`
	MasteryLevel         int       `gorm:"column:mastery_level;not null;default:0" json:"mastery_level"`
	ConsecutiveIncorrect int       `gorm:"column:consecutive_incorrect;not null;default:0" json:"consecutive_incorrect"`
	ServerUpdatedAt      time.Time `gorm:"column:server_updated_at" json:"server_updated_at"`
	AckSeq               uint64    `gorm:"column:ack_seq;not null;default:0" json:"ack_seq"`
	CreatedAt            time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time `gorm:"not null" json:"updated_at"`
}

func (CardProgress) TableName() string { return "card_progress" }
