package channels

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"time"

	"omnibox/config"
	"omnibox/models"
	"omnibox/utils"
)

const graphTimeLayout = "2006-01-02T15:04:05-0700"

type graphParty struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type graphConversation struct {
	ID           string `json:"id"`
	UpdatedTime  string `json:"updated_time"`
	UnreadCount  int    `json:"unread_count"`
	Participants struct {
		Data []graphParty `json:"data"`
	} `json:"participants"`
}

type graphMessage struct {
	ID          string     `json:"id"`
	Message     string     `json:"message"`
	CreatedTime string     `json:"created_time"`
	From        graphParty `json:"from"`
	To          struct {
		Data []graphParty `json:"data"`
	} `json:"to"`
}

// FacebookChannel reads page conversations from the Messenger platform.
type FacebookChannel struct {
	graph  *GraphClient
	pageID string
	log    *utils.Logger
}

// NewFacebookChannel creates the Messenger collaborator.
func NewFacebookChannel(cfg config.FacebookConfig) *FacebookChannel {
	return newFacebookChannel(NewGraphClient(cfg.GraphURL, cfg.AccessToken), cfg.PageID)
}

func newFacebookChannel(graph *GraphClient, pageID string) *FacebookChannel {
	return &FacebookChannel{
		graph:  graph,
		pageID: pageID,
		log:    utils.Log.WithField("channel", models.TopicFacebook),
	}
}

func (f *FacebookChannel) Topic() models.Topic { return models.TopicFacebook }

// Fetch walks every conversation of the page and every message in it.
func (f *FacebookChannel) Fetch(ctx context.Context) ([]models.Message, error) {
	conversations, err := f.conversations(ctx)
	if err != nil {
		return nil, fetchError(models.TopicFacebook, "conversations", err)
	}

	var messages []models.Message
	for _, conv := range conversations {
		batch, err := f.messages(ctx, conv)
		if err != nil {
			return nil, fetchError(models.TopicFacebook, "messages "+conv.ID, err)
		}
		messages = append(messages, batch...)
	}
	return messages, nil
}

func (f *FacebookChannel) conversations(ctx context.Context) ([]graphConversation, error) {
	next := f.graph.URL("me/conversations", url.Values{
		"fields": {"id,participants,updated_time,unread_count"},
	})

	var all []graphConversation
	for next != "" {
		var page struct {
			Data   []graphConversation `json:"data"`
			Paging paging              `json:"paging"`
		}
		if err := f.graph.Get(ctx, next, &page); err != nil {
			return nil, err
		}
		all = append(all, page.Data...)
		next = page.Paging.Next
	}
	return all, nil
}

func (f *FacebookChannel) messages(ctx context.Context, conv graphConversation) ([]models.Message, error) {
	next := f.graph.URL(conv.ID+"/messages", url.Values{
		"fields": {"id,message,from,to,created_time"},
	})

	var batch []models.Message
	for next != "" {
		var page struct {
			Data   []graphMessage `json:"data"`
			Paging paging         `json:"paging"`
		}
		if err := f.graph.Get(ctx, next, &page); err != nil {
			return nil, err
		}
		for _, gm := range page.Data {
			batch = append(batch, f.toMessage(gm))
		}
		next = page.Paging.Next
	}

	markUnread(batch, f.pageID, conv.UnreadCount)
	return batch, nil
}

func (f *FacebookChannel) toMessage(gm graphMessage) models.Message {
	msg := models.Message{
		ID:         gm.ID,
		Sender:     gm.From.ID,
		SenderName: gm.From.Name,
		Body:       gm.Message,
		Read:       true,
	}
	if len(gm.To.Data) > 0 {
		msg.Recipient = gm.To.Data[0].ID
	}
	if t, err := time.Parse(graphTimeLayout, gm.CreatedTime); err == nil {
		msg.SentAt = t.UTC()
	} else if gm.CreatedTime != "" {
		f.log.Warn("Unparseable created_time %q on message %s", gm.CreatedTime, gm.ID)
	}
	return msg
}

// markUnread flags the n most recent inbound messages of one conversation as
// unread. The platform reports only a count per conversation.
func markUnread(batch []models.Message, ownID string, n int) {
	if n <= 0 {
		return
	}
	var inbound []int
	for i := range batch {
		if batch[i].Sender != ownID {
			inbound = append(inbound, i)
		}
	}
	sort.SliceStable(inbound, func(a, b int) bool {
		return batch[inbound[a]].SentAt.After(batch[inbound[b]].SentAt)
	})
	for i := 0; i < n && i < len(inbound); i++ {
		batch[inbound[i]].Read = false
	}
}

// Aggregate groups by the user talking to the page.
func (f *FacebookChannel) Aggregate(messages []models.Message) ([]models.Conversation, error) {
	return utils.GroupByCounterpart(messages, f.pageID), nil
}

// MarkRead is not offered by the Graph API for page inboxes.
func (f *FacebookChannel) MarkRead(ctx context.Context, conversation models.Conversation) error {
	return fmt.Errorf("facebook mark-as-read: %w", utils.ErrUnsupported)
}

// Send delivers a text message to a user id through the page.
func (f *FacebookChannel) Send(ctx context.Context, msg models.Outbound) error {
	payload := map[string]interface{}{
		"recipient":      map[string]string{"id": msg.Recipient},
		"message":        map[string]string{"text": msg.Body},
		"messaging_type": "RESPONSE",
	}
	var resp struct {
		RecipientID string `json:"recipient_id"`
		MessageID   string `json:"message_id"`
	}
	if err := f.graph.Post(ctx, "me/messages", payload, &resp); err != nil {
		return err
	}
	f.log.Info("Message %s sent to %s", resp.MessageID, resp.RecipientID)
	return nil
}
