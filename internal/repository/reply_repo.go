package repository

import (
	"context"

	"github.com/blindrelay/blindrelay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReplyRepository interface {
	// CreateIfAbsent inserts a reply unless one with the same message id
	// already exists. Returns false without error on the duplicate path.
	CreateIfAbsent(ctx context.Context, reply *domain.Reply) (bool, error)
	List(ctx context.Context, limit int) ([]domain.Reply, error)
}

type GormReplyRepo struct {
	db *gorm.DB
}

func NewGormReplyRepo(db *gorm.DB) *GormReplyRepo {
	return &GormReplyRepo{db: db}
}

// CreateIfAbsent relies on the unique message_id index: the conditional
// insert is a single statement, so concurrent duplicate deliveries cannot
// both land a row.
func (r *GormReplyRepo) CreateIfAbsent(ctx context.Context, reply *domain.Reply) (bool, error) {
	model := replyModelFromDomain(reply)
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		Create(model)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormReplyRepo) List(ctx context.Context, limit int) ([]domain.Reply, error) {
	var models []ReplyModel
	query := r.db.WithContext(ctx).
		Order("received_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	replies := make([]domain.Reply, 0, len(models))
	for i := range models {
		replies = append(replies, *replyModelToDomain(&models[i]))
	}
	return replies, nil
}
