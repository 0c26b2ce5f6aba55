package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blindrelay/blindrelay/internal/domain"
	"github.com/blindrelay/blindrelay/internal/mailbox"
	"github.com/blindrelay/blindrelay/internal/observability"
	"github.com/blindrelay/blindrelay/internal/provider"
	"github.com/blindrelay/blindrelay/internal/ratelimit"
	"github.com/blindrelay/blindrelay/internal/repository"
)

const defaultSendConcurrency = 4

// DispatchResult summarizes one send run. Sent and Failed partition the
// recipient set; the run itself succeeds regardless of per-recipient
// failures.
type DispatchResult struct {
	CampaignID string
	Sent       int
	Failed     int
	Status     domain.Status
}

type DispatchService struct {
	campaigns   repository.CampaignRepository
	tokens      repository.TokenRepository
	sender      provider.EmailSender
	limiter     ratelimit.RateLimiter
	locks       *CampaignLocks
	metrics     *observability.Metrics
	logger      *zap.Logger
	concurrency int
	replyDomain string
	sendDomain  string
}

func NewDispatchService(
	campaigns repository.CampaignRepository,
	tokens repository.TokenRepository,
	sender provider.EmailSender,
	limiter ratelimit.RateLimiter,
	locks *CampaignLocks,
	metrics *observability.Metrics,
	logger *zap.Logger,
	concurrency int,
	replyDomain string,
	sendDomain string,
) (*DispatchService, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: email sender is required", domain.ErrValidation)
	}
	if strings.TrimSpace(replyDomain) == "" {
		return nil, fmt.Errorf("%w: reply domain is required", domain.ErrValidation)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = NewCampaignLocks()
	}
	if concurrency <= 0 {
		concurrency = defaultSendConcurrency
	}

	return &DispatchService{
		campaigns:   campaigns,
		tokens:      tokens,
		sender:      sender,
		limiter:     limiter,
		locks:       locks,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
		replyDomain: replyDomain,
		sendDomain:  sendDomain,
	}, nil
}

// SendCampaign fans the campaign out to every registered recipient and then
// marks the campaign sent. Per-recipient failures are counted, logged and
// absorbed; they never abort the run and never block the status transition.
func (s *DispatchService) SendCampaign(ctx context.Context, campaignID string) (*DispatchResult, error) {
	unlock := s.locks.Lock(campaignID)
	defer unlock()

	campaign, err := s.campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if err := campaign.CanSend(); err != nil {
		return nil, err
	}

	recipients, err := s.tokens.ListForCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, domain.ErrNoRecipients
	}

	subject := *campaign.Subject
	body := *campaign.Body

	var sent, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, rec := range recipients {
		rec := rec
		g.Go(func() error {
			if err := s.sendOne(gctx, rec, subject, body); err != nil {
				failed.Add(1)
				s.metrics.IncEmailFailed(failureReason(err))
				s.logger.Warn("recipient send failed",
					zap.String("campaign_id", campaignID),
					zap.String("recipient", rec.Email),
					zap.Error(err),
				)
				return nil
			}
			sent.Add(1)
			s.metrics.IncEmailSent()
			return nil
		})
	}
	// Workers swallow their errors, so Wait only synchronizes.
	_ = g.Wait()

	if err := s.campaigns.UpdateStatus(ctx, campaignID, domain.StatusSent); err != nil {
		return nil, fmt.Errorf("failed to mark campaign sent: %w", err)
	}

	result := &DispatchResult{
		CampaignID: campaignID,
		Sent:       int(sent.Load()),
		Failed:     int(failed.Load()),
		Status:     domain.StatusSent,
	}

	s.logger.Info("campaign dispatched",
		zap.String("campaign_id", campaignID),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *DispatchService) sendOne(ctx context.Context, rec domain.RecipientToken, subject, body string) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, s.sendDomain); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	s.metrics.IncDispatchInFlight()
	defer s.metrics.DecDispatchInFlight()

	start := time.Now()
	_, err := s.sender.Send(ctx, provider.Message{
		To:      rec.Email,
		Subject: subject,
		Body:    body,
		ReplyTo: mailbox.Address(rec.Token, s.replyDomain),
	})
	s.metrics.ObserveEmailSendDuration(time.Since(start))
	return err
}

func failureReason(err error) string {
	var provErr *provider.ProviderError
	switch {
	case errors.As(err, &provErr) && provErr.StatusCode > 0:
		return "provider_status"
	case errors.As(err, &provErr):
		return "transport"
	case strings.Contains(err.Error(), "rate limiter"):
		return "rate_limit"
	default:
		return "unknown"
	}
}
