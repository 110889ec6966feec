package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"omnibox/channels"
	"omnibox/config"
	"omnibox/handlers/api"
	"omnibox/models"
	"omnibox/storage"
	"omnibox/utils"

	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "config.toml", "path to the TOML configuration file")
	envPath := pflag.String("env", ".env", "path to an optional .env file")
	pflag.Parse()

	utils.Log.Info("Initializing Omnibox...")

	if err := config.LoadEnv(*envPath); err != nil {
		utils.Log.Error("Failed to load env file: %v", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		utils.Log.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		utils.Log.Error("%v", err)
		os.Exit(1)
	}
	// Validate has already rejected unknown levels.
	level, _ := utils.ParseLogLevel(cfg.Log.Level)
	utils.Log.SetLevel(level)

	registry := utils.NewSubscriberRegistry(utils.RegistryOptions{
		Timeout: cfg.Live.SubscriberTimeout.Duration,
		Buffer:  cfg.Live.Buffer,
	})

	inboxes := api.Inboxes{}
	addInbox := func(ch channels.Channel) {
		inboxes[ch.Topic()] = &api.Inbox{
			Channel: ch,
			Poller:  utils.NewPoller(ch, registry, cfg.Poll.Interval.Duration),
		}
	}

	if cfg.Email.Enabled {
		addInbox(channels.NewEmailChannel(cfg.Email, cfg.SMTP))
	}
	if cfg.Facebook.Enabled {
		addInbox(channels.NewFacebookChannel(cfg.Facebook))
	}

	var (
		store   *storage.MessageStore
		webhook api.Ingester
		seenIDs *utils.MemoryCache
	)
	if cfg.WhatsApp.Enabled {
		db, err := storage.InitDB(cfg.Storage.DataDir)
		if err != nil {
			utils.Log.Error("Failed to initialize storage: %v", err)
			os.Exit(1)
		}
		store = storage.NewMessageStore(db)
		seenIDs = utils.NewMemoryCache(10 * time.Minute)

		wa := channels.NewWhatsAppChannel(cfg.WhatsApp, store, seenIDs)
		addInbox(wa)
		webhook = wa
		if cfg.WhatsApp.WebhookSecret == "" {
			utils.Log.Warn("whatsapp.webhook_secret is empty, webhook signatures are not checked")
		}
	}

	if len(inboxes) == 0 {
		utils.Log.Warn("No channel is enabled")
	}

	app := api.NewApp(api.Options{
		Inboxes:       inboxes,
		Registry:      registry,
		KeepAlive:     cfg.Live.KeepAlive.Duration,
		Webhook:       webhook,
		VerifyToken:   cfg.WhatsApp.VerifyToken,
		WebhookSecret: cfg.WhatsApp.WebhookSecret,
		RateLimit:     cfg.Server.RateLimit,
		RateBurst:     cfg.Server.RateBurst,
		AccessLog:     true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pollers sync.WaitGroup
	for _, topic := range models.Topics {
		inbox, ok := inboxes[topic]
		if !ok {
			continue
		}
		pollers.Add(1)
		go func(p *utils.Poller) {
			defer pollers.Done()
			p.Run(ctx)
		}(inbox.Poller)
	}

	serverErr := make(chan error, 1)
	go func() {
		// Start server
		utils.Log.Info("Starting server on %s...", cfg.Server.Address())
		serverErr <- app.Listen(cfg.Server.Address())
	}()

	select {
	case <-ctx.Done():
		utils.Log.Info("Shutting down...")
	case err := <-serverErr:
		utils.Log.Error("Error starting server: %v", err)
		stop()
	}

	// Ending the subscribers first lets open streams return.
	registry.Close()
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		utils.Log.Error("Error stopping server: %v", err)
	}
	pollers.Wait()

	if seenIDs != nil {
		seenIDs.Close()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			utils.Log.Error("Error closing database: %v", err)
		}
	}
	utils.Log.Info("Stopped")
}
