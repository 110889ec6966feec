package api

import (
	"errors"
	"strings"

	"omnibox/channels"
	"omnibox/models"
	"omnibox/utils"

	"github.com/gofiber/fiber/v2"
)

// SendHandler handles outbound messages
type SendHandler struct {
	inboxes Inboxes
}

// NewSendHandler creates a new send handler
func NewSendHandler(inboxes Inboxes) *SendHandler {
	return &SendHandler{inboxes: inboxes}
}

// SendRequest is the body of a chat send.
type SendRequest struct {
	Message string `json:"message" form:"message"`
	Subject string `json:"subject" form:"subject"`
}

// ReplyRequest represents an email reply request
type ReplyRequest struct {
	Recipient string `json:"recipient" form:"recipient"`
	Subject   string `json:"subject" form:"subject"`
	Message   string `json:"message" form:"message"`
	MessageID string `json:"message_id" form:"message_id"`
}

// HandleSend sends a message to :recipient on :channel.
func (h *SendHandler) HandleSend(c *fiber.Ctx) error {
	topic, inbox, err := h.inboxes.lookup(c)
	if err != nil {
		return err
	}

	var req SendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}
	recipient := c.Params("recipient")
	if recipient == "" || strings.TrimSpace(req.Message) == "" {
		return utils.BadRequestError("Missing required fields", nil)
	}

	return h.deliver(c, topic, inbox, models.Outbound{
		Recipient: recipient,
		Subject:   req.Subject,
		Body:      req.Message,
	})
}

// HandleReply handles the email reply request
func (h *SendHandler) HandleReply(c *fiber.Ctx) error {
	inbox, ok := h.inboxes[models.TopicEmail]
	if !ok {
		return utils.NotFoundError("Channel not enabled", nil)
	}

	var req ReplyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError("Invalid request", err)
	}

	// Validate required fields
	if req.Recipient == "" || req.Message == "" {
		return utils.BadRequestError("Missing required fields", nil)
	}
	if strings.ContainsAny(req.Recipient+req.Subject+req.MessageID, "\r\n") {
		return utils.BadRequestError("Header fields must not contain line breaks", nil)
	}

	return h.deliver(c, models.TopicEmail, inbox, models.Outbound{
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Message,
		InReplyTo: req.MessageID,
	})
}

func (h *SendHandler) deliver(c *fiber.Ctx, topic models.Topic, inbox *Inbox, msg models.Outbound) error {
	sender, ok := inbox.Channel.(channels.Sender)
	if !ok {
		return utils.NotImplementedError("Sending is not available for this channel", utils.ErrUnsupported)
	}

	if err := sender.Send(c.UserContext(), msg); err != nil {
		if errors.Is(err, utils.ErrOutsideReplyWindow) {
			return utils.BadRequestError("Recipient has not messaged in the reply window", err)
		}
		return utils.BadGatewayError("Failed to send message", err)
	}

	inbox.Poller.Trigger()
	utils.Log.Info("Message sent on %s: to=%s", topic, msg.Recipient)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Message sent successfully",
	})
}
