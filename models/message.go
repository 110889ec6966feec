package models

import "time"

// Topic names one messaging channel and the broadcast group viewers of that
// channel subscribe to.
type Topic string

const (
	TopicEmail    Topic = "email"
	TopicFacebook Topic = "facebook"
	TopicWhatsApp Topic = "whatsapp"
)

// Topics lists every channel topic in display order.
var Topics = []Topic{TopicEmail, TopicFacebook, TopicWhatsApp}

// ParseTopic maps a route parameter to a Topic.
func ParseTopic(s string) (Topic, bool) {
	for _, t := range Topics {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Message is the channel-agnostic shape of one discrete message. Only Read
// changes after creation.
type Message struct {
	ID         string    `json:"id"`
	ThreadRefs []string  `json:"thread_refs,omitempty"`
	ParentRef  string    `json:"parent_ref,omitempty"`
	Sender     string    `json:"sender"`
	SenderName string    `json:"sender_name,omitempty"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject,omitempty"`
	SentAt     time.Time `json:"sent_at"`
	Body       string    `json:"body"`
	Read       bool      `json:"read"`

	// Set by the thread resolver for email.
	ThreadKey string `json:"thread_key,omitempty"`

	// Email location, needed to flag the message on the server.
	Mailbox string `json:"-"`
	UID     uint32 `json:"-"`
}

// Outbound is a message to be sent through a channel's send API.
type Outbound struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	InReplyTo string `json:"in_reply_to,omitempty"`
}
