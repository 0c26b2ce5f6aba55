// Package service implements the campaign lifecycle, dispatch, and reply
// ingestion flows on top of the repository and provider ports.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/blindrelay/blindrelay/internal/domain"
	"github.com/blindrelay/blindrelay/internal/mailbox"
	"github.com/blindrelay/blindrelay/internal/repository"
)

const (
	// maxAudienceSize bounds a single audience upload.
	maxAudienceSize = 1000

	// maxTokenAttempts bounds the insert-retry loop per recipient before
	// the collision is treated as a systemic fault.
	maxTokenAttempts = 8
)

// AudienceResult summarizes a completed audience replacement.
type AudienceResult struct {
	CampaignID string
	Count      int
	Status     domain.Status
	Tokens     []domain.RecipientToken
}

type CampaignService struct {
	campaigns repository.CampaignRepository
	tokens    repository.TokenRepository
	locks     *CampaignLocks
	logger    *zap.Logger
	now       func() time.Time
}

func NewCampaignService(
	campaigns repository.CampaignRepository,
	tokens repository.TokenRepository,
	locks *CampaignLocks,
	logger *zap.Logger,
) *CampaignService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = NewCampaignLocks()
	}
	return &CampaignService{
		campaigns: campaigns,
		tokens:    tokens,
		locks:     locks,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *CampaignService) Create(ctx context.Context, name string) (*domain.Campaign, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: campaign name is required", domain.ErrValidation)
	}

	campaign := &domain.Campaign{
		ID:     uuid.NewString(),
		Name:   name,
		Status: domain.StatusDraft,
	}
	if err := campaign.Validate(); err != nil {
		return nil, err
	}
	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", campaign.ID),
		zap.String("name", campaign.Name),
	)
	return campaign, nil
}

func (s *CampaignService) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	return s.campaigns.GetByID(ctx, id)
}

func (s *CampaignService) List(ctx context.Context) ([]domain.Campaign, error) {
	campaigns, err := s.campaigns.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// SetContent stores subject and body together and derives the new status.
// Sent campaigns reject the change. The fetch and guard run under the
// campaign lock so the terminal check cannot race an in-flight send.
func (s *CampaignService) SetContent(ctx context.Context, id, subject, body string) (*domain.Campaign, error) {
	subject = strings.TrimSpace(subject)
	body = strings.TrimSpace(body)
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrValidation)
	}
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", domain.ErrValidation)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := campaign.CanSetContent(); err != nil {
		return nil, err
	}

	status := campaign.StatusAfterContentSet()
	if err := s.campaigns.SetContent(ctx, id, subject, body, status); err != nil {
		return nil, fmt.Errorf("failed to set campaign content: %w", err)
	}

	campaign.Subject = &subject
	campaign.Body = &body
	campaign.Status = status

	s.logger.Info("campaign content set",
		zap.String("campaign_id", id),
		zap.String("status", status.String()),
	)
	return campaign, nil
}

// ReplaceAudience swaps the campaign's entire recipient set for the given
// addresses. Oversized uploads are rejected before any mutation; unusable
// addresses are dropped silently. Each surviving address gets a fresh token,
// retried on collision.
func (s *CampaignService) ReplaceAudience(ctx context.Context, id string, emails []string) (*AudienceResult, error) {
	if len(emails) > maxAudienceSize {
		return nil, fmt.Errorf("%w: audience exceeds %d recipients", domain.ErrValidation, maxAudienceSize)
	}

	accepted := normalizeEmails(emails)

	// Fetch and guard under the campaign lock: a replace queued behind an
	// in-flight send must observe the sent status, not a stale one.
	unlock := s.locks.Lock(id)
	defer unlock()

	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := campaign.CanReplaceAudience(); err != nil {
		return nil, err
	}

	if err := s.tokens.DeleteForCampaign(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to clear campaign audience: %w", err)
	}

	tokens := make([]domain.RecipientToken, 0, len(accepted))
	for _, email := range accepted {
		token, err := s.issueToken(ctx, id, email)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}

	status := domain.StatusAfterAudienceReplace(campaign.HasContent(), len(tokens))
	if err := s.campaigns.SetAudience(ctx, id, len(tokens), status); err != nil {
		return nil, fmt.Errorf("failed to update campaign audience: %w", err)
	}

	s.logger.Info("campaign audience replaced",
		zap.String("campaign_id", id),
		zap.Int("uploaded", len(emails)),
		zap.Int("accepted", len(tokens)),
		zap.String("status", status.String()),
	)

	return &AudienceResult{
		CampaignID: id,
		Count:      len(tokens),
		Status:     status,
		Tokens:     tokens,
	}, nil
}

// TokenMap returns the campaign's email-to-token registry in upload order.
func (s *CampaignService) TokenMap(ctx context.Context, id string) ([]domain.RecipientToken, error) {
	if _, err := s.campaigns.GetByID(ctx, id); err != nil {
		return nil, err
	}
	tokens, err := s.tokens.ListForCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign tokens: %w", err)
	}
	return tokens, nil
}

func (s *CampaignService) issueToken(ctx context.Context, campaignID, email string) (*domain.RecipientToken, error) {
	for attempt := 1; attempt <= maxTokenAttempts; attempt++ {
		token, err := mailbox.NewToken()
		if err != nil {
			return nil, err
		}

		record := &domain.RecipientToken{
			Token:      token,
			CampaignID: campaignID,
			Email:      email,
			CreatedAt:  s.now().UTC(),
		}
		err = s.tokens.Insert(ctx, record)
		if err == nil {
			return record, nil
		}
		if !isUniqueViolation(err) {
			return nil, fmt.Errorf("failed to register token: %w", err)
		}

		s.logger.Warn("token collision, retrying",
			zap.String("campaign_id", campaignID),
			zap.Int("attempt", attempt),
		)
	}
	return nil, fmt.Errorf("%w: %d consecutive collisions for campaign %s",
		domain.ErrTokenSpaceExhausted, maxTokenAttempts, campaignID)
}

// normalizeEmails trims entries and drops blanks and anything without an
// "@", preserving order. Real validation is the provider's problem.
func normalizeEmails(emails []string) []string {
	accepted := make([]string, 0, len(emails))
	for _, raw := range emails {
		email := strings.TrimSpace(raw)
		if email == "" || !strings.Contains(email, "@") {
			continue
		}
		accepted = append(accepted, email)
	}
	return accepted
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation")
}
