package utils

import (
	"omnibox/models"
)

// ThreadResolver assigns thread keys to email messages from their reference
// headers alone.
//
// Resolution is a single forward pass in fetch order: a message can only join
// the thread of a message that was processed before it. When Inbox and Sent
// are concatenated, a reply fetched ahead of the message it answers starts a
// thread of its own.
type ThreadResolver struct {
	seen map[string]string
}

// NewThreadResolver creates a new thread resolver
func NewThreadResolver() *ThreadResolver {
	return &ThreadResolver{}
}

// Resolve returns the batch with ThreadKey set on every message. Messages
// without an ID cannot be referenced or keyed and are returned as rejects.
// The seen-id table is rebuilt on every call.
func (r *ThreadResolver) Resolve(messages []models.Message) ([]models.Message, []*MalformedMessageError) {
	r.seen = make(map[string]string, len(messages))

	resolved := make([]models.Message, 0, len(messages))
	var rejected []*MalformedMessageError

	for _, msg := range messages {
		if msg.ID == "" {
			rejected = append(rejected, &MalformedMessageError{
				Channel: string(models.TopicEmail),
				Reason:  "missing Message-ID",
			})
			continue
		}

		msg.ThreadKey = r.threadKey(msg)
		r.seen[msg.ID] = msg.ThreadKey
		resolved = append(resolved, msg)
	}

	return resolved, rejected
}

// threadKey picks the key for msg from the table of already processed ids.
// The earliest listed reference wins over later ones.
func (r *ThreadResolver) threadKey(msg models.Message) string {
	for _, ref := range msg.ThreadRefs {
		if key, ok := r.seen[ref]; ok {
			return key
		}
	}
	if msg.ParentRef != "" {
		if key, ok := r.seen[msg.ParentRef]; ok {
			return key
		}
	}
	return msg.ID
}

// ResolveThreads is a convenience wrapper around a fresh ThreadResolver.
func ResolveThreads(messages []models.Message) ([]models.Message, []*MalformedMessageError) {
	return NewThreadResolver().Resolve(messages)
}
