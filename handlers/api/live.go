package api

import (
	"bufio"
	"encoding/json"
	"time"

	"omnibox/models"
	"omnibox/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/valyala/fasthttp"
)

const DefaultKeepAlive = 30 * time.Second

// LiveHandler streams conversation snapshots to live listeners over SSE and
// WebSocket.
type LiveHandler struct {
	inboxes   Inboxes
	registry  utils.Registry
	keepAlive time.Duration
}

// NewLiveHandler creates a new live handler
func NewLiveHandler(inboxes Inboxes, registry utils.Registry, keepAlive time.Duration) *LiveHandler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &LiveHandler{
		inboxes:   inboxes,
		registry:  registry,
		keepAlive: keepAlive,
	}
}

// HandleSSE handles Server-Sent Events for live conversation updates
func (h *LiveHandler) HandleSSE(c *fiber.Ctx) error {
	topic, inbox, err := h.inboxes.lookup(c)
	if err != nil {
		return err
	}

	// Set headers for SSE
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	// Subscribe before reading the snapshot so no broadcast falls in between.
	sub := h.registry.Subscribe(topic)
	initial, hasInitial := inbox.Poller.Snapshot()
	log := utils.Log.WithFields(map[string]interface{}{"channel": topic, "subscriber": sub.ID})
	log.Info("SSE subscriber connected")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer func() {
			h.registry.Unsubscribe(sub)
			log.Info("SSE subscriber disconnected: %v", sub.Err())
		}()

		if hasInitial {
			if err := writeEvent(w, initial); err != nil {
				return
			}
		}

		// Keep-alive ticker
		ticker := time.NewTicker(h.keepAlive)
		defer ticker.Stop()

		for {
			select {
			case snapshot := <-sub.Updates():
				if err := writeEvent(w, snapshot); err != nil {
					log.Debug("SSE write failed: %v", err)
					return
				}

			case <-ticker.C:
				// Send keep-alive comment
				w.WriteString(": keepalive\n\n")
				if err := w.Flush(); err != nil {
					return
				}

			case <-sub.Done():
				return
			}
		}
	}))

	return nil
}

func writeEvent(w *bufio.Writer, snapshot models.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	w.WriteString("event: conversations\n")
	w.WriteString("data: ")
	w.Write(data)
	w.WriteString("\n\n")
	return w.Flush()
}

// Upgrade admits WebSocket handshakes for an enabled channel.
func (h *LiveHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	topic, _, err := h.inboxes.lookup(c)
	if err != nil {
		return err
	}
	c.Locals("topic", topic)
	return c.Next()
}

// HandleWebSocket handles WebSocket connections for live conversation updates
func (h *LiveHandler) HandleWebSocket(c *websocket.Conn) {
	topic, _ := c.Locals("topic").(models.Topic)
	inbox, ok := h.inboxes[topic]
	if !ok {
		c.Close()
		return
	}

	sub := h.registry.Subscribe(topic)
	log := utils.Log.WithFields(map[string]interface{}{"channel": topic, "subscriber": sub.ID})

	defer func() {
		h.registry.Unsubscribe(sub)
		c.Close()
		log.Info("WebSocket subscriber disconnected: %v", sub.Err())
	}()

	log.Info("WebSocket subscriber connected")

	// The client sends nothing; reading only detects the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if initial, ok := inbox.Poller.Snapshot(); ok {
		if err := c.WriteJSON(initial); err != nil {
			return
		}
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case snapshot := <-sub.Updates():
			if err := c.WriteJSON(snapshot); err != nil {
				log.Error("Failed to send WebSocket update: %v", err)
				return
			}
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			return
		case <-gone:
			return
		}
	}
}
