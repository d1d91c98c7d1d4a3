package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yungbote/studysync/internal/pkg/logger"
)

type QuestionProgressRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, row *QuestionProgress) error
	GetByLearnerID(ctx context.Context, tx *gorm.DB, learnerID string) ([]*QuestionProgress, error)
}

type questionProgressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionProgressRepo(db *gorm.DB, baseLog *logger.Logger) QuestionProgressRepo {
	repoLog := baseLog.With("repo", "QuestionProgressRepo")
	return &questionProgressRepo{db: db, log: repoLog}
}

// Upsert keeps at most one row per (learner, question). A row carrying an older
// server stamp than the stored one is ignored.
func (r *questionProgressRepo) Upsert(ctx context.Context, tx *gorm.DB, row *QuestionProgress) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "learner_id"}, {Name: "question_id"}},
			Where: clause.Where{Exprs: []clause.Expression{clause.Or(
				clause.Expr{SQL: "question_progress.server_updated_at < excluded.server_updated_at"},
				clause.And(
					clause.Expr{SQL: "question_progress.server_updated_at = excluded.server_updated_at"},
					clause.Expr{SQL: "question_progress.ack_seq <= excluded.ack_seq"},
				),
			)}},
			DoUpdates: clause.AssignmentColumns([]string{
				"completed", "correct", "consecutive_incorrect", "user_answer",
				"server_updated_at", "ack_seq", "updated_at",
			}),
		}).
		Create(row).Error
}

func (r *questionProgressRepo) GetByLearnerID(ctx context.Context, tx *gorm.DB, learnerID string) ([]*QuestionProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*QuestionProgress
	if learnerID == "" {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type CardProgressRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, row *CardProgress) error
	GetByLearnerID(ctx context.Context, tx *gorm.DB, learnerID string) ([]*CardProgress, error)
}

type cardProgressRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCardProgressRepo(db *gorm.DB, baseLog *logger.Logger) CardProgressRepo {
	repoLog := baseLog.With("repo", "CardProgressRepo")
	return &cardProgressRepo{db: db, log: repoLog}
}

func (r *cardProgressRepo) Upsert(ctx context.Context, tx *gorm.DB, row *CardProgress) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "learner_id"}, {Name: "card_id"}},
			Where: clause.Where{Exprs: []clause.Expression{clause.Or(
				clause.Expr{SQL: "card_progress.server_updated_at < excluded.server_updated_at"},
				clause.And(
					clause.Expr{SQL: "card_progress.server_updated_at = excluded.server_updated_at"},
					clause.Expr{SQL: "card_progress.ack_seq <= excluded.ack_seq"},
				),
			)}},
			DoUpdates: clause.AssignmentColumns([]string{
				"times_studied", "mastery_level", "consecutive_incorrect",
				"server_updated_at", "ack_seq", "updated_at",
			}),
		}).
		Create(row).Error
}

func (r *cardProgressRepo) GetByLearnerID(ctx context.Context, tx *gorm.DB, learnerID string) ([]*CardProgress, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*CardProgress
	if learnerID == "" {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("learner_id = ?", learnerID).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
