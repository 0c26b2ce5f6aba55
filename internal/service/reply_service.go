package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/blindrelay/blindrelay/internal/domain"
	"github.com/blindrelay/blindrelay/internal/mailbox"
	"github.com/blindrelay/blindrelay/internal/observability"
	"github.com/blindrelay/blindrelay/internal/repository"
)

// maxReplyListing caps the reply listing to the newest entries.
const maxReplyListing = 500

// IngestOutcome classifies what ingestion did with a notification.
type IngestOutcome string

const (
	OutcomeStored    IngestOutcome = "stored"
	OutcomeDuplicate IngestOutcome = "duplicate"
	OutcomeIgnored   IngestOutcome = "ignored"
)

// IngestInput carries the fields lifted from an inbound webhook form.
type IngestInput struct {
	Recipient string
	MessageID string
	Subject   string
	RawBody   string
}

type ReplyService struct {
	replies repository.ReplyRepository
	tokens  repository.TokenRepository
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewReplyService(
	replies repository.ReplyRepository,
	tokens repository.TokenRepository,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *ReplyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplyService{
		replies: replies,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Ingest processes one inbound notification and never fails: malformed or
// unstorable input is absorbed so the provider does not retry the delivery.
func (s *ReplyService) Ingest(ctx context.Context, in IngestInput) IngestOutcome {
	outcome := s.ingest(ctx, in)
	s.metrics.IncReplyIngested(string(outcome))
	return outcome
}

func (s *ReplyService) ingest(ctx context.Context, in IngestInput) IngestOutcome {
	token, ok := mailbox.DecodeAddress(strings.TrimSpace(in.Recipient))
	if !ok || token == "" {
		s.logger.Debug("reply dropped, unroutable recipient",
			zap.String("recipient", in.Recipient),
		)
		return OutcomeIgnored
	}

	messageID := strings.TrimSpace(in.MessageID)
	if messageID == "" {
		s.logger.Debug("reply dropped, missing message id",
			zap.String("token", token),
		)
		return OutcomeIgnored
	}

	// Gate on the raw body: a fully-quoted reply sanitizes to nothing but
	// is still stored for audit.
	if in.RawBody == "" {
		s.logger.Debug("reply dropped, missing body",
			zap.String("token", token),
		)
		return OutcomeIgnored
	}

	reply := &domain.Reply{
		ID:         uuid.NewString(),
		MessageID:  messageID,
		Token:      &token,
		CampaignID: s.resolveCampaign(ctx, token),
		Body:       mailbox.CleanBody(in.RawBody),
		ReceivedAt: s.now().UTC(),
	}
	if subject := strings.TrimSpace(in.Subject); subject != "" {
		reply.Subject = &subject
	}

	inserted, err := s.replies.CreateIfAbsent(ctx, reply)
	if err != nil {
		s.logger.Error("failed to store reply",
			zap.String("message_id", messageID),
			zap.Error(err),
		)
		return OutcomeIgnored
	}
	if !inserted {
		s.logger.Debug("reply already stored",
			zap.String("message_id", messageID),
		)
		return OutcomeDuplicate
	}

	s.logger.Info("reply stored",
		zap.String("message_id", messageID),
		zap.String("token", token),
	)
	return OutcomeStored
}

// resolveCampaign looks the token up in the registry. Unknown tokens leave
// the reply uncorrelated rather than dropping it.
func (s *ReplyService) resolveCampaign(ctx context.Context, token string) *string {
	record, err := s.tokens.GetByToken(ctx, token)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Warn("token lookup failed, storing reply uncorrelated",
			zap.String("token", token),
			zap.Error(err),
		)
		return nil
	}
	return &record.CampaignID
}

func (s *ReplyService) List(ctx context.Context) ([]domain.Reply, error) {
	replies, err := s.replies.List(ctx, maxReplyListing)
	if err != nil {
		return nil, fmt.Errorf("failed to list replies: %w", err)
	}
	return replies, nil
}
