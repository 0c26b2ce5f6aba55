// Package handler exposes the HTTP surface: campaign lifecycle endpoints,
// the inbound webhook, and health/metrics probes.
package handler

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/blindrelay/blindrelay/internal/auth"
	"github.com/blindrelay/blindrelay/internal/domain"
	"github.com/blindrelay/blindrelay/internal/service"
)

type CampaignHandler struct {
	campaigns *service.CampaignService
	dispatch  *service.DispatchService
	replies   *service.ReplyService
	logger    *zap.Logger
}

func NewCampaignHandler(
	campaigns *service.CampaignService,
	dispatch *service.DispatchService,
	replies *service.ReplyService,
	logger *zap.Logger,
) *CampaignHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CampaignHandler{
		campaigns: campaigns,
		dispatch:  dispatch,
		replies:   replies,
		logger:    logger,
	}
}

// RegisterRoutes mounts the owner-facing endpoints behind role middleware.
func (h *CampaignHandler) RegisterRoutes(app *fiber.App, authn *auth.Authenticator) {
	anyOwner := authn.Require(auth.RoleDataOwner, auth.RoleContentOwner)
	contentOwner := authn.Require(auth.RoleContentOwner)
	dataOwner := authn.Require(auth.RoleDataOwner)

	app.Get("/campaigns", anyOwner, h.List)
	app.Post("/campaigns", contentOwner, h.Create)
	app.Post("/campaigns/:id/content", contentOwner, h.SetContent)
	app.Post("/campaigns/:id/upload-emails", dataOwner, h.UploadEmails)
	app.Get("/campaigns/:id/token-map", dataOwner, h.TokenMap)
	app.Post("/campaigns/:id/send", contentOwner, h.Send)
	app.Get("/replies", anyOwner, h.ListReplies)
}

type createCampaignRequest struct {
	Name string `json:"name"`
}

type campaignResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	Subject        *string   `json:"subject"`
	Body           *string   `json:"body"`
	RecipientCount int       `json:"recipient_count"`
	CreatedAt      time.Time `json:"created_at"`
}

func toCampaignResponse(c *domain.Campaign) campaignResponse {
	return campaignResponse{
		ID:             c.ID,
		Name:           c.Name,
		Status:         c.Status.String(),
		Subject:        c.Subject,
		Body:           c.Body,
		RecipientCount: c.RecipientCount,
		CreatedAt:      c.CreatedAt,
	}
}

func (h *CampaignHandler) Create(c *fiber.Ctx) error {
	var req createCampaignRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}

	campaign, err := h.campaigns.Create(c.Context(), req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *CampaignHandler) List(c *fiber.Ctx) error {
	campaigns, err := h.campaigns.List(c.Context())
	if err != nil {
		return err
	}

	out := make([]campaignResponse, 0, len(campaigns))
	for i := range campaigns {
		out = append(out, toCampaignResponse(&campaigns[i]))
	}
	return c.JSON(out)
}

type setContentRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *CampaignHandler) SetContent(c *fiber.Ctx) error {
	var req setContentRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}

	campaign, err := h.campaigns.SetContent(c.Context(), c.Params("id"), req.Subject, req.Body)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":          "updated",
		"campaign_id":     campaign.ID,
		"campaign_status": campaign.Status.String(),
	})
}

type uploadEmailsRequest struct {
	Emails []string `json:"emails"`
}

type tokenMapEntry struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

func toTokenMapEntries(tokens []domain.RecipientToken) []tokenMapEntry {
	entries := make([]tokenMapEntry, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, tokenMapEntry{Email: t.Email, Token: t.Token})
	}
	return entries
}

func (h *CampaignHandler) UploadEmails(c *fiber.Ctx) error {
	var req uploadEmailsRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrValidation)
	}

	result, err := h.campaigns.ReplaceAudience(c.Context(), c.Params("id"), req.Emails)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"campaign_id": result.CampaignID,
		"count":       result.Count,
		"status":      result.Status.String(),
		"map":         toTokenMapEntries(result.Tokens),
	})
}

func (h *CampaignHandler) TokenMap(c *fiber.Ctx) error {
	id := c.Params("id")
	tokens, err := h.campaigns.TokenMap(c.Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"campaign_id": id,
		"map":         toTokenMapEntries(tokens),
	})
}

func (h *CampaignHandler) Send(c *fiber.Ctx) error {
	result, err := h.dispatch.SendCampaign(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"campaign_id": result.CampaignID,
		"sent":        result.Sent,
		"failed":      result.Failed,
		"status":      result.Status.String(),
	})
}

type replyResponse struct {
	ID         string    `json:"id"`
	MessageID  string    `json:"message_id"`
	Token      *string   `json:"token"`
	CampaignID *string   `json:"campaign_id"`
	Subject    *string   `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
}

func (h *CampaignHandler) ListReplies(c *fiber.Ctx) error {
	replies, err := h.replies.List(c.Context())
	if err != nil {
		return err
	}

	out := make([]replyResponse, 0, len(replies))
	for _, r := range replies {
		out = append(out, replyResponse{
			ID:         r.ID,
			MessageID:  r.MessageID,
			Token:      r.Token,
			CampaignID: r.CampaignID,
			Subject:    r.Subject,
			Body:       r.Body,
			ReceivedAt: r.ReceivedAt,
		})
	}
	return c.JSON(out)
}
