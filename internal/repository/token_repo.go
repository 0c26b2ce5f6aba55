package repository

import (
	"context"
	"errors"

	"github.com/blindrelay/blindrelay/internal/domain"
	"gorm.io/gorm"
)

type TokenRepository interface {
	Insert(ctx context.Context, t *domain.RecipientToken) error
	DeleteForCampaign(ctx context.Context, campaignID string) error
	ListForCampaign(ctx context.Context, campaignID string) ([]domain.RecipientToken, error)
	GetByToken(ctx context.Context, token string) (*domain.RecipientToken, error)
}

type GormTokenRepo struct {
	db *gorm.DB
}

func NewGormTokenRepo(db *gorm.DB) *GormTokenRepo {
	return &GormTokenRepo{db: db}
}

// Insert persists a token mapping. A primary-key collision surfaces as the
// driver's unique-violation error; the caller's retry loop handles it.
func (r *GormTokenRepo) Insert(ctx context.Context, t *domain.RecipientToken) error {
	model := tokenModelFromDomain(t)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if t != nil {
		*t = *tokenModelToDomain(model)
	}
	return nil
}

func (r *GormTokenRepo) DeleteForCampaign(ctx context.Context, campaignID string) error {
	return r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Delete(&CampaignTokenModel{}).Error
}

func (r *GormTokenRepo) ListForCampaign(ctx context.Context, campaignID string) ([]domain.RecipientToken, error) {
	var models []CampaignTokenModel
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	tokens := make([]domain.RecipientToken, 0, len(models))
	for i := range models {
		tokens = append(tokens, *tokenModelToDomain(&models[i]))
	}
	return tokens, nil
}

func (r *GormTokenRepo) GetByToken(ctx context.Context, token string) (*domain.RecipientToken, error) {
	var model CampaignTokenModel
	err := r.db.WithContext(ctx).First(&model, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tokenModelToDomain(&model), nil
}
