package utils

import (
	"testing"
	"time"

	"omnibox/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time { return base.Add(time.Duration(minutes) * time.Minute) }

func assertWellFormed(t *testing.T, conv models.Conversation) {
	t.Helper()
	unread := 0
	var last time.Time
	for i, m := range conv.Messages {
		if i > 0 {
			assert.False(t, m.SentAt.Before(conv.Messages[i-1].SentAt), "messages out of order in %s", conv.ID)
		}
		if !m.Read {
			unread++
		}
		if m.SentAt.After(last) {
			last = m.SentAt
		}
	}
	assert.Equal(t, unread, conv.UnreadCount)
	assert.Equal(t, last, conv.LastActivityAt)
}

func TestGroupByThread(t *testing.T) {
	resolved, _ := ResolveThreads([]models.Message{
		{ID: "a", Sender: "bob@example.com", Subject: "Lunch", SentAt: at(0), Read: true},
		{ID: "x", Sender: "eve@example.com", Subject: "Other", SentAt: at(1)},
		{ID: "c", Sender: "bob@example.com", Subject: "Re: Lunch", SentAt: at(10), ThreadRefs: []string{"b", "a"}},
		{ID: "b", Sender: "me@example.com", Subject: "Re: Lunch", SentAt: at(5), ParentRef: "a", Read: true},
	})

	convs := GroupByThread(resolved)
	require.Len(t, convs, 2)

	lunch, ok := FindConversation(convs, "a")
	require.True(t, ok)
	assert.Equal(t, "bob@example.com", lunch.Participant)
	assert.Equal(t, "Lunch", lunch.Subject)
	assert.Equal(t, 1, lunch.UnreadCount)
	assert.Equal(t, at(10), lunch.LastActivityAt)
	require.Len(t, lunch.Messages, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{lunch.Messages[0].ID, lunch.Messages[1].ID, lunch.Messages[2].ID})

	for _, c := range convs {
		assertWellFormed(t, c)
	}

	// most recent activity first
	assert.Equal(t, "a", convs[0].ID)
}

func TestGroupKeepsTieOrderAndFirstSender(t *testing.T) {
	convs := GroupByThread([]models.Message{
		{ID: "1", ThreadKey: "k", Sender: "first@example.com", SentAt: at(3)},
		{ID: "2", ThreadKey: "k", Sender: "Canonical <first@example.com>", SentAt: at(1)},
		{ID: "3", ThreadKey: "k", Sender: "first@example.com", SentAt: at(3)},
	})

	require.Len(t, convs, 1)
	assert.Equal(t, "first@example.com", convs[0].Participant)
	assert.Equal(t, []string{"2", "1", "3"}, []string{convs[0].Messages[0].ID, convs[0].Messages[1].ID, convs[0].Messages[2].ID})
}

func TestGroupByCounterpartFoldsSelfSent(t *testing.T) {
	const own = "15550000"
	convs := GroupByCounterpart([]models.Message{
		{ID: "o1", Sender: own, Recipient: "alice", SentAt: at(0), Read: true},
		{ID: "i1", Sender: "alice", Recipient: own, SentAt: at(1)},
		{ID: "i2", Sender: "bob", Recipient: own, SentAt: at(2), Read: true},
		{ID: "o2", Sender: own, Recipient: "alice", SentAt: at(3), Read: true},
		{ID: "i3", Sender: "alice", Recipient: own, SentAt: at(4)},
		{ID: "o3", Sender: own, Recipient: "stranger", SentAt: at(5), Read: true},
	}, own)

	require.Len(t, convs, 2)

	alice, ok := FindConversation(convs, "alice")
	require.True(t, ok)
	assert.Equal(t, "alice", alice.Participant)
	assert.Equal(t, 2, alice.UnreadCount)
	require.Len(t, alice.Messages, 4)
	assert.Equal(t, "o1", alice.Messages[0].ID)
	assert.Equal(t, "i3", alice.Messages[3].ID)

	bob, ok := FindConversation(convs, "bob")
	require.True(t, ok)
	assert.Equal(t, 0, bob.UnreadCount)

	_, ok = FindConversation(convs, own)
	assert.False(t, ok, "own address must not define a conversation")
	_, ok = FindConversation(convs, "stranger")
	assert.False(t, ok)

	for _, c := range convs {
		assertWellFormed(t, c)
	}
}

func TestUnreadMessagesNewestFirst(t *testing.T) {
	conversations := GroupByCounterpart([]models.Message{
		{ID: "1", Sender: "ana", Recipient: "me", SentAt: at(1)},
		{ID: "2", Sender: "me", Recipient: "ana", SentAt: at(2), Read: true},
		{ID: "3", Sender: "bo", Recipient: "me", SentAt: at(3)},
		{ID: "4", Sender: "ana", Recipient: "me", SentAt: at(4), Read: true},
	}, "me")

	unread := UnreadMessages(conversations)
	require.Len(t, unread, 2)
	assert.Equal(t, "3", unread[0].ID)
	assert.Equal(t, "1", unread[1].ID)

	assert.Empty(t, UnreadMessages(nil))
}

func TestGroupEmptyInput(t *testing.T) {
	assert.Empty(t, GroupByThread(nil))
	assert.Empty(t, GroupByCounterpart(nil, "me"))
}
