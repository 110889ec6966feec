package api

import (
	"time"

	"omnibox/models"

	"github.com/gofiber/fiber/v2"
)

// Counter reports live listeners per topic.
type Counter interface {
	Count(topic models.Topic) int
}

// HealthHandler reports poller state per channel.
func HealthHandler(inboxes Inboxes, counter Counter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		channels := fiber.Map{}
		status := "ok"

		for _, topic := range models.Topics {
			inbox, ok := inboxes[topic]
			if !ok {
				continue
			}
			entry := fiber.Map{
				"state":         inbox.Poller.State().String(),
				"conversations": len(inbox.Poller.Current()),
				"subscribers":   counter.Count(topic),
			}
			if err := inbox.Poller.LastError(); err != nil {
				entry["last_error"] = err.Error()
				status = "degraded"
			}
			channels[string(topic)] = entry
		}

		return c.JSON(fiber.Map{
			"status":   status,
			"time":     time.Now().Format(time.RFC3339),
			"channels": channels,
		})
	}
}
