package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"omnibox/models"

	bolt "go.etcd.io/bbolt"
)

// MessageStore persists business-chat messages received over the webhook or
// sent through the API, keyed by message id.
type MessageStore struct {
	db *bolt.DB
}

// NewMessageStore wraps an initialized database.
func NewMessageStore(db *bolt.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Close closes the database
func (s *MessageStore) Close() error {
	return s.db.Close()
}

// Create stores msg unless a message with the same id exists. It reports
// whether the message was new.
func (s *MessageStore) Create(msg models.Message) (bool, error) {
	if msg.ID == "" {
		return false, errors.New("message id is required")
	}

	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatMessagesBucket)
		if b.Get([]byte(msg.ID)) != nil {
			return nil
		}

		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to encode message: %w", err)
		}
		created = true
		return b.Put([]byte(msg.ID), encoded)
	})
	return created, err
}

// List returns every stored message, oldest first.
func (s *MessageStore) List() ([]models.Message, error) {
	return s.collect(func(models.Message) bool { return true })
}

// ListBySenderSince returns messages from sender sent after since.
func (s *MessageStore) ListBySenderSince(sender string, since time.Time) ([]models.Message, error) {
	return s.collect(func(m models.Message) bool {
		return m.Sender == sender && m.SentAt.After(since)
	})
}

// MarkReadBySender flags every message from sender as read and returns how
// many changed.
func (s *MessageStore) MarkReadBySender(sender string) (int, error) {
	changed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatMessagesBucket)

		updates := make(map[string][]byte)
		err := b.ForEach(func(k, v []byte) error {
			var msg models.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			if msg.Sender != sender || msg.Read {
				return nil
			}
			msg.Read = true
			encoded, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			updates[string(k)] = encoded
			return nil
		})
		if err != nil {
			return err
		}

		// Puts are not allowed inside ForEach.
		for k, v := range updates {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		changed = len(updates)
		return nil
	})
	return changed, err
}

func (s *MessageStore) collect(keep func(models.Message) bool) ([]models.Message, error) {
	var messages []models.Message

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(chatMessagesBucket)

		return b.ForEach(func(k, v []byte) error {
			var msg models.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("decode message %s: %w", k, err)
			}
			if keep(msg) {
				messages = append(messages, msg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})
	return messages, nil
}
