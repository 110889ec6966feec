package api

import (
	"crypto/subtle"

	"omnibox/models"
	"omnibox/utils"

	"github.com/gofiber/fiber/v2"
)

// Ingester stores the messages of a webhook notification.
type Ingester interface {
	Ingest(body []byte) (int, error)
}

// WebhookHandler receives WhatsApp Cloud API notifications.
type WebhookHandler struct {
	ingester    Ingester
	poller      *utils.Poller
	verifyToken string
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(ingester Ingester, poller *utils.Poller, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		ingester:    ingester,
		poller:      poller,
		verifyToken: verifyToken,
	}
}

// Verify answers the subscription handshake by echoing hub.challenge.
func (h *WebhookHandler) Verify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")

	if mode != "subscribe" || h.verifyToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.verifyToken)) != 1 {
		utils.Log.Warn("Webhook verification failed (mode=%q)", mode)
		return c.Status(fiber.StatusForbidden).SendString("Verification failed")
	}

	utils.Log.Info("Webhook verified")
	return c.SendString(c.Query("hub.challenge"))
}

// Receive stores the inbound messages and requests an immediate poll.
func (h *WebhookHandler) Receive(c *fiber.Ctx) error {
	n, err := h.ingester.Ingest(c.Body())
	if err != nil {
		return utils.BadRequestError("Invalid webhook payload", err)
	}

	if n > 0 {
		h.poller.Trigger()
		utils.Log.WithField("channel", models.TopicWhatsApp).Debug("Stored %d webhook messages", n)
	}
	return c.SendStatus(fiber.StatusOK)
}
