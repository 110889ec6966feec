package utils

import (
	"sort"

	"omnibox/models"
)

// conversationBuilder accumulates messages for one grouping key in the order
// they were encountered.
type conversationBuilder struct {
	order  []string
	groups map[string]*models.Conversation
}

func newConversationBuilder(capacity int) *conversationBuilder {
	return &conversationBuilder{
		groups: make(map[string]*models.Conversation, capacity),
	}
}

// open creates the group under key on first sight. The first message seen
// for a key fixes its participant.
func (b *conversationBuilder) open(key string, first models.Message) {
	if _, ok := b.groups[key]; ok {
		return
	}
	b.groups[key] = &models.Conversation{
		ID:              key,
		Participant:     first.Sender,
		ParticipantName: first.SenderName,
		Subject:         CleanSubject(first.Subject),
	}
	b.order = append(b.order, key)
}

// add appends msg to the group under key if that group is open.
func (b *conversationBuilder) add(key string, msg models.Message) {
	if conv, ok := b.groups[key]; ok {
		conv.Messages = append(conv.Messages, msg)
	}
}

// build finalises each group and returns the list with the most recently
// active conversation first.
func (b *conversationBuilder) build() []models.Conversation {
	conversations := make([]models.Conversation, 0, len(b.order))
	for _, key := range b.order {
		conv := b.groups[key]

		sort.SliceStable(conv.Messages, func(i, j int) bool {
			return conv.Messages[i].SentAt.Before(conv.Messages[j].SentAt)
		})

		for _, msg := range conv.Messages {
			if !msg.Read {
				conv.UnreadCount++
			}
			if msg.SentAt.After(conv.LastActivityAt) {
				conv.LastActivityAt = msg.SentAt
			}
		}

		conversations = append(conversations, *conv)
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivityAt.After(conversations[j].LastActivityAt)
	})

	return conversations
}

// GroupByThread groups resolved email messages by their thread key.
func GroupByThread(messages []models.Message) []models.Conversation {
	b := newConversationBuilder(len(messages))
	for _, msg := range messages {
		key := msg.ThreadKey
		if key == "" {
			key = msg.ID
		}
		b.open(key, msg)
		b.add(key, msg)
	}
	return b.build()
}

// GroupByCounterpart groups chat messages by the address of the other party.
// Only inbound messages open a conversation; messages sent from ownAddress
// are folded into the conversation of their recipient and dropped when that
// counterpart never wrote in.
func GroupByCounterpart(messages []models.Message, ownAddress string) []models.Conversation {
	b := newConversationBuilder(len(messages))

	for _, msg := range messages {
		if msg.Sender != ownAddress {
			b.open(msg.Sender, msg)
		}
	}

	for _, msg := range messages {
		if msg.Sender != ownAddress {
			b.add(msg.Sender, msg)
			continue
		}
		b.add(msg.Recipient, msg)
	}

	return b.build()
}

// UnreadMessages lists the unread messages of every conversation, newest
// first.
func UnreadMessages(conversations []models.Conversation) []models.Message {
	unread := []models.Message{}
	for _, conv := range conversations {
		for _, msg := range conv.Messages {
			if !msg.Read {
				unread = append(unread, msg)
			}
		}
	}
	sort.SliceStable(unread, func(i, j int) bool {
		return unread[i].SentAt.After(unread[j].SentAt)
	})
	return unread
}

// FindConversation returns the conversation with the given id.
func FindConversation(conversations []models.Conversation, id string) (models.Conversation, bool) {
	for _, conv := range conversations {
		if conv.ID == id {
			return conv, true
		}
	}
	return models.Conversation{}, false
}
