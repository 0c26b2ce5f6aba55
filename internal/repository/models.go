package repository

import (
	"time"

	"github.com/blindrelay/blindrelay/internal/domain"
)

// CampaignModel is the persistence model for the campaigns table.
type CampaignModel struct {
	ID             string        `gorm:"type:uuid;primaryKey"`
	Name           string        `gorm:"type:varchar(255);not null"`
	Status         domain.Status `gorm:"type:varchar(20);not null"`
	Subject        *string       `gorm:"type:text"`
	Body           *string       `gorm:"type:text"`
	RecipientCount int           `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (CampaignModel) TableName() string {
	return "campaigns"
}

// CampaignTokenModel is the persistence model for campaign_tokens. The
// token primary key is the uniqueness constraint backing the generator's
// insert-retry loop.
type CampaignTokenModel struct {
	Token      string `gorm:"type:varchar(32);primaryKey"`
	CampaignID string `gorm:"type:uuid;not null"`
	Email      string `gorm:"type:varchar(255);not null"`
	CreatedAt  time.Time
}

func (CampaignTokenModel) TableName() string {
	return "campaign_tokens"
}

// ReplyModel is the persistence model for replies. message_id carries a
// unique index so duplicate webhook deliveries reduce to a no-op insert.
type ReplyModel struct {
	ID         string  `gorm:"type:uuid;primaryKey"`
	MessageID  string  `gorm:"type:varchar(998);not null"`
	Token      *string `gorm:"type:varchar(32)"`
	CampaignID *string `gorm:"type:uuid"`
	Subject    *string `gorm:"type:text"`
	Body       string  `gorm:"type:text;not null"`
	ReceivedAt time.Time
}

func (ReplyModel) TableName() string {
	return "replies"
}

func campaignModelFromDomain(c *domain.Campaign) *CampaignModel {
	if c == nil {
		return nil
	}

	return &CampaignModel{
		ID:             c.ID,
		Name:           c.Name,
		Status:         c.Status,
		Subject:        c.Subject,
		Body:           c.Body,
		RecipientCount: c.RecipientCount,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

func campaignModelToDomain(m *CampaignModel) *domain.Campaign {
	if m == nil {
		return nil
	}

	return &domain.Campaign{
		ID:             m.ID,
		Name:           m.Name,
		Status:         m.Status,
		Subject:        m.Subject,
		Body:           m.Body,
		RecipientCount: m.RecipientCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func tokenModelFromDomain(t *domain.RecipientToken) *CampaignTokenModel {
	if t == nil {
		return nil
	}

	return &CampaignTokenModel{
		Token:      t.Token,
		CampaignID: t.CampaignID,
		Email:      t.Email,
		CreatedAt:  t.CreatedAt,
	}
}

func tokenModelToDomain(m *CampaignTokenModel) *domain.RecipientToken {
	if m == nil {
		return nil
	}

	return &domain.RecipientToken{
		Token:      m.Token,
		CampaignID: m.CampaignID,
		Email:      m.Email,
		CreatedAt:  m.CreatedAt,
	}
}

func replyModelFromDomain(r *domain.Reply) *ReplyModel {
	if r == nil {
		return nil
	}

	return &ReplyModel{
		ID:         r.ID,
		MessageID:  r.MessageID,
		Token:      r.Token,
		CampaignID: r.CampaignID,
		Subject:    r.Subject,
		Body:       r.Body,
		ReceivedAt: r.ReceivedAt,
	}
}

func replyModelToDomain(m *ReplyModel) *domain.Reply {
	if m == nil {
		return nil
	}

	return &domain.Reply{
		ID:         m.ID,
		MessageID:  m.MessageID,
		Token:      m.Token,
		CampaignID: m.CampaignID,
		Subject:    m.Subject,
		Body:       m.Body,
		ReceivedAt: m.ReceivedAt,
	}
}
