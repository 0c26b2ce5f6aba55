package handler

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/blindrelay/blindrelay/internal/service"
)

// WebhookHandler terminates the provider's inbound-message webhook. It is
// deliberately unauthenticated and always acknowledges 200 so the provider
// never retries and the endpoint leaks nothing to probes.
type WebhookHandler struct {
	replies *service.ReplyService
	logger  *zap.Logger
}

func NewWebhookHandler(replies *service.ReplyService, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{replies: replies, logger: logger}
}

func (h *WebhookHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/mailgun", h.Inbound)
}

func (h *WebhookHandler) Inbound(c *fiber.Ctx) error {
	outcome := h.replies.Ingest(c.Context(), service.IngestInput{
		Recipient: c.FormValue("recipient"),
		MessageID: c.FormValue("Message-Id"),
		Subject:   c.FormValue("subject"),
		RawBody:   c.FormValue("body-plain"),
	})

	h.logger.Debug("webhook processed", zap.String("outcome", string(outcome)))
	return c.Status(fiber.StatusOK).SendString("OK")
}
