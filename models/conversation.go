package models

import "time"

// Conversation is a projection over the current message set. It is rebuilt on
// every poll cycle and never stored.
type Conversation struct {
	ID              string    `json:"conversation_id"`
	Participant     string    `json:"participant"`
	ParticipantName string    `json:"participant_name,omitempty"`
	Subject         string    `json:"subject,omitempty"`
	Messages        []Message `json:"messages"`
	UnreadCount     int       `json:"unread_count"`
	LastActivityAt  time.Time `json:"last_activity_at"`
}

// Snapshot is the payload delivered to live subscribers after a poll cycle.
type Snapshot struct {
	Topic         Topic          `json:"topic"`
	Conversations []Conversation `json:"conversations"`
	GeneratedAt   time.Time      `json:"generated_at"`
}
