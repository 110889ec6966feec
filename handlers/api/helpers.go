package api

import (
	"errors"

	"omnibox/channels"
	"omnibox/models"
	"omnibox/utils"

	"github.com/gofiber/fiber/v2"
)

// Inbox pairs a channel with the poller that keeps its conversation list.
type Inbox struct {
	Channel channels.Channel
	Poller  *utils.Poller
}

// Inboxes holds the enabled channels by topic.
type Inboxes map[models.Topic]*Inbox

// lookup resolves the :channel route parameter.
func (in Inboxes) lookup(c *fiber.Ctx) (models.Topic, *Inbox, error) {
	topic, ok := models.ParseTopic(c.Params("channel"))
	if !ok {
		return "", nil, utils.NotFoundError("Unknown channel", nil)
	}
	inbox, ok := in[topic]
	if !ok {
		return "", nil, utils.NotFoundError("Channel not enabled", nil).WithContext("channel", topic)
	}
	return topic, inbox, nil
}

// snapshot returns the poller's latest list, empty before the first cycle.
func (i *Inbox) snapshot(topic models.Topic) models.Snapshot {
	if s, ok := i.Poller.Snapshot(); ok {
		return s
	}
	return models.Snapshot{Topic: topic, Conversations: []models.Conversation{}}
}

// ErrorHandler renders errors returned by handlers as JSON.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var appErr *utils.AppError
	var fiberErr *fiber.Error
	if errors.As(err, &appErr) {
		code = appErr.Code
		if code >= fiber.StatusInternalServerError {
			utils.Log.Error("Application error: %v", appErr)
		} else {
			utils.Log.Debug("Request rejected: %v", appErr)
		}
	} else if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	} else {
		utils.Log.Error("Unhandled error on %s %s: %v", c.Method(), c.Path(), err)
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
