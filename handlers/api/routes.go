package api

import (
	"time"

	"omnibox/middleware"
	"omnibox/models"
	"omnibox/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options wires the HTTP surface.
type Options struct {
	Inboxes   Inboxes
	Registry  *utils.SubscriberRegistry
	KeepAlive time.Duration

	// Webhook is set when WhatsApp is enabled.
	Webhook       Ingester
	VerifyToken   string
	WebhookSecret string

	RateLimit float64
	RateBurst int
	AccessLog bool
}

// NewApp builds the Fiber application with every route registered.
func NewApp(opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "omnibox",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
	})

	// Add global middleware
	app.Use(recover.New()) // Recover from panics
	if opts.AccessLog {
		app.Use(logger.New()) // Request logging
	}
	app.Use(helmet.New(helmet.Config{ // Security headers
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
		ReferrerPolicy:     "no-referrer",
	}))

	limiter := middleware.RateLimiter(opts.RateLimit, opts.RateBurst)

	conversations := NewConversationHandler(opts.Inboxes)
	send := NewSendHandler(opts.Inboxes)
	live := NewLiveHandler(opts.Inboxes, opts.Registry, opts.KeepAlive)

	apiRoutes := app.Group("/api", limiter)
	{
		apiRoutes.Post("/email/reply", send.HandleReply)

		apiRoutes.Get("/:channel/conversations", conversations.List)
		apiRoutes.Get("/:channel/conversations/:id", conversations.Get)
		apiRoutes.Put("/:channel/conversations/:id/read", conversations.MarkRead)
		apiRoutes.Get("/:channel/unread", conversations.Unread)
		apiRoutes.Post("/:channel/send/:recipient", send.HandleSend)
		apiRoutes.Get("/:channel/live", live.HandleSSE)
	}

	app.Get("/ws/:channel", live.Upgrade, websocket.New(live.HandleWebSocket))

	if opts.Webhook != nil {
		if inbox, ok := opts.Inboxes[models.TopicWhatsApp]; ok {
			webhook := NewWebhookHandler(opts.Webhook, inbox.Poller, opts.VerifyToken)
			app.Get("/webhook", limiter, webhook.Verify)
			app.Post("/webhook", limiter, middleware.VerifySignature(opts.WebhookSecret), webhook.Receive)
		}
	}

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", HealthHandler(opts.Inboxes, opts.Registry))

	// 404 Handler for undefined routes
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Not found",
		})
	})

	return app
}
