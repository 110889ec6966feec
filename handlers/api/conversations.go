package api

import (
	"errors"

	"omnibox/utils"

	"github.com/gofiber/fiber/v2"
)

// ConversationHandler serves the conversation lists held by the pollers.
type ConversationHandler struct {
	inboxes Inboxes
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(inboxes Inboxes) *ConversationHandler {
	return &ConversationHandler{inboxes: inboxes}
}

// List returns the conversations of the last successful poll.
func (h *ConversationHandler) List(c *fiber.Ctx) error {
	topic, inbox, err := h.inboxes.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(inbox.snapshot(topic))
}

// Get returns one conversation.
func (h *ConversationHandler) Get(c *fiber.Ctx) error {
	_, inbox, err := h.inboxes.lookup(c)
	if err != nil {
		return err
	}

	conv, ok := utils.FindConversation(inbox.Poller.Current(), c.Params("id"))
	if !ok {
		return utils.NotFoundError("Conversation not found", utils.ErrConversationNotFound)
	}
	return c.JSON(conv)
}

// Unread returns every unread message across the channel's conversations.
func (h *ConversationHandler) Unread(c *fiber.Ctx) error {
	topic, inbox, err := h.inboxes.lookup(c)
	if err != nil {
		return err
	}

	messages := utils.UnreadMessages(inbox.Poller.Current())
	return c.JSON(fiber.Map{
		"topic":    topic,
		"count":    len(messages),
		"messages": messages,
	})
}

// MarkRead marks every message of a conversation as read and schedules an
// early poll so listeners see the new unread count.
func (h *ConversationHandler) MarkRead(c *fiber.Ctx) error {
	topic, inbox, err := h.inboxes.lookup(c)
	if err != nil {
		return err
	}

	conv, ok := utils.FindConversation(inbox.Poller.Current(), c.Params("id"))
	if !ok {
		return utils.NotFoundError("Conversation not found", utils.ErrConversationNotFound)
	}

	if err := inbox.Channel.MarkRead(c.UserContext(), conv); err != nil {
		if errors.Is(err, utils.ErrUnsupported) {
			return utils.NotImplementedError("Mark as read is not available for this channel", err)
		}
		return utils.BadGatewayError("Failed to mark conversation as read", err)
	}

	inbox.Poller.Trigger()
	utils.Log.Info("Conversation %s on %s marked as read", conv.ID, topic)

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Conversation marked as read",
	})
}
