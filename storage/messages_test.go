package storage

import (
	"testing"
	"time"

	"omnibox/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *MessageStore {
	t.Helper()
	db, err := InitDB(t.TempDir())
	require.NoError(t, err)
	s := NewMessageStore(db)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateIsIdempotent(t *testing.T) {
	s := newStore(t)

	created, err := s.Create(models.Message{ID: "wamid.1", Sender: "4911", Body: "hi", SentAt: t0})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Create(models.Message{ID: "wamid.1", Sender: "4911", Body: "changed", SentAt: t0})
	require.NoError(t, err)
	assert.False(t, created)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "hi", all[0].Body)

	_, err = s.Create(models.Message{Sender: "4911"})
	assert.Error(t, err)
}

func TestListOrdersBySentAt(t *testing.T) {
	s := newStore(t)
	for _, m := range []models.Message{
		{ID: "c", Sender: "a", SentAt: t0.Add(2 * time.Minute)},
		{ID: "a", Sender: "a", SentAt: t0.Add(3 * time.Minute)},
		{ID: "b", Sender: "a", SentAt: t0},
	} {
		_, err := s.Create(m)
		require.NoError(t, err)
	}

	all, err := s.List()
	require.NoError(t, err)
	ids := []string{all[0].ID, all[1].ID, all[2].ID}
	assert.Equal(t, []string{"b", "c", "a"}, ids)
}

func TestListBySenderSince(t *testing.T) {
	s := newStore(t)
	for _, m := range []models.Message{
		{ID: "old", Sender: "4911", SentAt: t0.Add(-48 * time.Hour)},
		{ID: "new", Sender: "4911", SentAt: t0.Add(-time.Hour)},
		{ID: "other", Sender: "4922", SentAt: t0.Add(-time.Hour)},
	} {
		_, err := s.Create(m)
		require.NoError(t, err)
	}

	got, err := s.ListBySenderSince("4911", t0.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestMarkReadBySenderOnlyTouchesRead(t *testing.T) {
	s := newStore(t)
	for _, m := range []models.Message{
		{ID: "1", Sender: "4911", Recipient: "me", Body: "one", SentAt: t0},
		{ID: "2", Sender: "4911", Recipient: "me", Body: "two", SentAt: t0.Add(time.Minute)},
		{ID: "3", Sender: "4922", Recipient: "me", Body: "three", SentAt: t0},
	} {
		_, err := s.Create(m)
		require.NoError(t, err)
	}

	n, err := s.MarkReadBySender("4911")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.MarkReadBySender("4911")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	all, err := s.List()
	require.NoError(t, err)
	for _, m := range all {
		if m.Sender == "4911" {
			assert.True(t, m.Read, m.ID)
			assert.Equal(t, "me", m.Recipient)
			assert.NotEmpty(t, m.Body)
		} else {
			assert.False(t, m.Read, m.ID)
		}
	}
}
