// Package channels holds the collaborators that talk to each external
// messaging service.
package channels

import (
	"context"

	"omnibox/models"
	"omnibox/utils"
)

// Channel is one external messaging service. Fetch failures are returned as
// *utils.CollaboratorFetchError.
type Channel interface {
	utils.Source
	MarkRead(ctx context.Context, conversation models.Conversation) error
}

// Sender is implemented by channels that can deliver outbound messages.
type Sender interface {
	Send(ctx context.Context, msg models.Outbound) error
}

func fetchError(topic models.Topic, op string, err error) error {
	return &utils.CollaboratorFetchError{Channel: string(topic), Op: op, Err: err}
}
