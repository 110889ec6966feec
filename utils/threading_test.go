package utils

import (
	"testing"

	"omnibox/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysByID(msgs []models.Message) map[string]string {
	keys := make(map[string]string, len(msgs))
	for _, m := range msgs {
		keys[m.ID] = m.ThreadKey
	}
	return keys
}

func TestResolveStandaloneMessagesKeyOnOwnID(t *testing.T) {
	msgs := []models.Message{{ID: "x"}, {ID: "y"}, {ID: "z", ParentRef: "unknown"}}

	resolved, rejected := ResolveThreads(msgs)
	require.Empty(t, rejected)

	for _, m := range resolved {
		assert.Equal(t, m.ID, m.ThreadKey)
	}
}

func TestResolveChainJoinsFirstMessage(t *testing.T) {
	msgs := []models.Message{
		{ID: "a"},
		{ID: "b", ParentRef: "a"},
		{ID: "c", ThreadRefs: []string{"b", "a"}},
	}

	resolved, _ := ResolveThreads(msgs)
	keys := keysByID(resolved)

	assert.Equal(t, "a", keys["a"])
	assert.Equal(t, "a", keys["b"])
	assert.Equal(t, "a", keys["c"])
}

func TestResolveEarliestListedReferenceWins(t *testing.T) {
	msgs := []models.Message{
		{ID: "t1"},
		{ID: "t2"},
		{ID: "r", ThreadRefs: []string{"missing", "t2", "t1"}, ParentRef: "t1"},
	}

	resolved, _ := ResolveThreads(msgs)
	assert.Equal(t, "t2", keysByID(resolved)["r"])
}

func TestResolveRefsTakePrecedenceOverParent(t *testing.T) {
	msgs := []models.Message{
		{ID: "p"},
		{ID: "q"},
		{ID: "r", ThreadRefs: []string{"q"}, ParentRef: "p"},
	}

	resolved, _ := ResolveThreads(msgs)
	assert.Equal(t, "q", keysByID(resolved)["r"])
}

func TestResolveFallsBackToParentWhenNoRefSeen(t *testing.T) {
	msgs := []models.Message{
		{ID: "p"},
		{ID: "r", ThreadRefs: []string{"nope"}, ParentRef: "p"},
	}

	resolved, _ := ResolveThreads(msgs)
	assert.Equal(t, "p", keysByID(resolved)["r"])
}

// A reply that precedes its parent in fetch order is not merged. This mirrors
// Inbox fetched before Sent and is kept as-is.
func TestResolveForwardReferenceStartsOwnThread(t *testing.T) {
	msgs := []models.Message{
		{ID: "reply", ParentRef: "original", ThreadRefs: []string{"original"}},
		{ID: "original"},
	}

	resolved, _ := ResolveThreads(msgs)
	keys := keysByID(resolved)

	assert.Equal(t, "reply", keys["reply"])
	assert.Equal(t, "original", keys["original"])
}

func TestResolveReorderingUnrelatedTopLevelKeepsPartition(t *testing.T) {
	a := []models.Message{
		{ID: "m1"},
		{ID: "m2"},
		{ID: "m3", ParentRef: "m1"},
		{ID: "m4", ThreadRefs: []string{"m2"}},
	}
	b := []models.Message{a[1], a[0], a[2], a[3]}

	ra, _ := ResolveThreads(a)
	rb, _ := ResolveThreads(b)

	assert.Equal(t, keysByID(ra), keysByID(rb))
}

func TestResolveRejectsMessagesWithoutID(t *testing.T) {
	msgs := []models.Message{{ID: "a"}, {Sender: "x@example.com"}, {ID: "b", ParentRef: "a"}}

	resolved, rejected := ResolveThreads(msgs)

	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Error(), "missing Message-ID")
	require.Len(t, resolved, 2)
	assert.Equal(t, "a", keysByID(resolved)["b"])
}

func TestResolverTableIsFreshPerPass(t *testing.T) {
	r := NewThreadResolver()
	r.Resolve([]models.Message{{ID: "a"}})

	resolved, _ := r.Resolve([]models.Message{{ID: "b", ParentRef: "a"}})
	assert.Equal(t, "b", resolved[0].ThreadKey)
}
