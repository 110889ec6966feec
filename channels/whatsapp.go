package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"omnibox/config"
	"omnibox/models"
	"omnibox/utils"

	"github.com/google/uuid"
)

const webhookDedupeTTL = time.Hour

// MessageStore is the persistence WhatsApp messages live in between polls.
type MessageStore interface {
	Create(msg models.Message) (bool, error)
	List() ([]models.Message, error)
	ListBySenderSince(sender string, since time.Time) ([]models.Message, error)
	MarkReadBySender(sender string) (int, error)
}

// WhatsAppChannel serves business-chat messages pushed by the Cloud API
// webhook and stored locally.
type WhatsAppChannel struct {
	graph         *GraphClient
	store         MessageStore
	seen          *utils.MemoryCache
	phoneNumberID string
	ownNumber     string
	replyWindow   time.Duration
	now           func() time.Time
	log           *utils.Logger
}

// NewWhatsAppChannel creates the WhatsApp collaborator on top of store.
func NewWhatsAppChannel(cfg config.WhatsAppConfig, store MessageStore, seen *utils.MemoryCache) *WhatsAppChannel {
	return &WhatsAppChannel{
		graph:         NewGraphClient(cfg.GraphURL, cfg.AccessToken),
		store:         store,
		seen:          seen,
		phoneNumberID: cfg.PhoneNumberID,
		ownNumber:     cfg.PhoneNumber,
		replyWindow:   cfg.ReplyWindow.Duration,
		now:           time.Now,
		log:           utils.Log.WithField("channel", models.TopicWhatsApp),
	}
}

func (w *WhatsAppChannel) Topic() models.Topic { return models.TopicWhatsApp }

func (w *WhatsAppChannel) Fetch(ctx context.Context) ([]models.Message, error) {
	messages, err := w.store.List()
	if err != nil {
		return nil, fetchError(models.TopicWhatsApp, "store", err)
	}
	return messages, nil
}

func (w *WhatsAppChannel) Aggregate(messages []models.Message) ([]models.Conversation, error) {
	return utils.GroupByCounterpart(messages, w.ownNumber), nil
}

// MarkRead flags everything the counterpart sent as read.
func (w *WhatsAppChannel) MarkRead(ctx context.Context, conversation models.Conversation) error {
	n, err := w.store.MarkReadBySender(conversation.Participant)
	if err != nil {
		return err
	}
	w.log.Debug("Marked %d messages from %s as read", n, conversation.Participant)
	return nil
}

// Send delivers a text message. Free-form messages are only allowed while the
// recipient's last message is younger than the reply window.
func (w *WhatsAppChannel) Send(ctx context.Context, msg models.Outbound) error {
	recent, err := w.store.ListBySenderSince(msg.Recipient, w.now().Add(-w.replyWindow))
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return utils.ErrOutsideReplyWindow
	}

	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                msg.Recipient,
		"type":              "text",
		"text": map[string]interface{}{
			"preview_url": false,
			"body":        msg.Body,
		},
	}
	var resp struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := w.graph.Post(ctx, w.phoneNumberID+"/messages", payload, &resp); err != nil {
		return err
	}

	id := uuid.New().String()
	if len(resp.Messages) > 0 && resp.Messages[0].ID != "" {
		id = resp.Messages[0].ID
	}
	_, err = w.store.Create(models.Message{
		ID:        id,
		Sender:    w.ownNumber,
		Recipient: msg.Recipient,
		SentAt:    w.now().UTC(),
		Body:      msg.Body,
		Read:      true,
	})
	return err
}

// WebhookPayload is the notification body posted by the Cloud API.
type WebhookPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				MessagingProduct string `json:"messaging_product"`
				Contacts         []struct {
					WaID    string `json:"wa_id"`
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      *struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ParseWebhook extracts the inbound text messages of a webhook body. Status
// updates and non-text messages are ignored.
func ParseWebhook(body []byte, ownNumber string) ([]models.Message, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}

	var messages []models.Message
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			names := make(map[string]string, len(change.Value.Contacts))
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, m := range change.Value.Messages {
				if m.From == "" || m.ID == "" || m.Text == nil {
					continue
				}
				msg := models.Message{
					ID:         m.ID,
					Sender:     m.From,
					SenderName: names[m.From],
					Recipient:  ownNumber,
					Body:       m.Text.Body,
				}
				if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					msg.SentAt = time.Unix(secs, 0).UTC()
				}
				messages = append(messages, msg)
			}
		}
	}
	return messages, nil
}

// Ingest stores the new messages of a webhook body as unread. It returns how
// many were stored; redeliveries are skipped.
func (w *WhatsAppChannel) Ingest(body []byte) (int, error) {
	messages, err := ParseWebhook(body, w.ownNumber)
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, msg := range messages {
		if w.seen != nil && w.seen.SeenRecently(msg.ID, webhookDedupeTTL) {
			continue
		}
		if msg.SentAt.IsZero() {
			msg.SentAt = w.now().UTC()
		}
		created, err := w.store.Create(msg)
		if err != nil {
			if w.seen != nil {
				w.seen.Delete(msg.ID)
			}
			return stored, err
		}
		if created {
			stored++
			w.log.Info("Received message %s from %s", msg.ID, msg.Sender)
		}
	}
	return stored, nil
}
