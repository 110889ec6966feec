package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"omnibox/models"
	"omnibox/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPageID = "page-1"

func newGraphServer(t *testing.T, handler func(srv *httptest.Server, w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		handler(srv, w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func fbMessage(id, from, to, created, text string) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"message":      text,
		"created_time": created,
		"from":         map[string]string{"id": from, "name": from + " name"},
		"to":           map[string]interface{}{"data": []map[string]string{{"id": to}}},
	}
}

func TestFacebookFetchFollowsPaging(t *testing.T) {
	srv := newGraphServer(t, func(srv *httptest.Server, w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/me/conversations" && r.URL.Query().Get("after") == "":
			assert.Equal(t, "id,participants,updated_time,unread_count", r.URL.Query().Get("fields"))
			writeJSON(w, map[string]interface{}{
				"data":   []map[string]interface{}{{"id": "t_1", "unread_count": 1}},
				"paging": map[string]string{"next": srv.URL + "/me/conversations?after=p2"},
			})
		case r.URL.Path == "/me/conversations":
			writeJSON(w, map[string]interface{}{
				"data": []map[string]interface{}{{"id": "t_2", "unread_count": 0}},
			})
		case r.URL.Path == "/t_1/messages" && r.URL.Query().Get("after") == "":
			writeJSON(w, map[string]interface{}{
				"data": []interface{}{
					fbMessage("m3", "user-1", testPageID, "2024-03-01T09:02:00+0000", "third"),
					fbMessage("m2", testPageID, "user-1", "2024-03-01T09:01:00+0000", "second"),
				},
				"paging": map[string]string{"next": srv.URL + "/t_1/messages?after=p2"},
			})
		case r.URL.Path == "/t_1/messages":
			writeJSON(w, map[string]interface{}{
				"data": []interface{}{fbMessage("m1", "user-1", testPageID, "2024-03-01T09:00:00+0000", "first")},
			})
		case r.URL.Path == "/t_2/messages":
			writeJSON(w, map[string]interface{}{
				"data": []interface{}{fbMessage("m9", "user-2", testPageID, "2024-03-01T08:00:00+0000", "hello")},
			})
		default:
			http.NotFound(w, r)
		}
	})

	fb := newFacebookChannel(NewGraphClient(srv.URL, "test-token"), testPageID)
	msgs, err := fb.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	convs, err := fb.Aggregate(msgs)
	require.NoError(t, err)
	require.Len(t, convs, 2)

	first := convs[0]
	assert.Equal(t, "user-1", first.ID)
	assert.Equal(t, "user-1 name", first.ParticipantName)
	require.Len(t, first.Messages, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{first.Messages[0].ID, first.Messages[1].ID, first.Messages[2].ID})
	// unread_count 1 covers only the most recent inbound message.
	assert.Equal(t, 1, first.UnreadCount)
	assert.False(t, first.Messages[2].Read)
	assert.True(t, first.Messages[0].Read)

	assert.Equal(t, "user-2", convs[1].ID)
	assert.Equal(t, 0, convs[1].UnreadCount)
}

func TestFacebookFetchReportsGraphErrors(t *testing.T) {
	srv := newGraphServer(t, func(srv *httptest.Server, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]interface{}{
			"error": map[string]interface{}{"message": "Invalid OAuth access token.", "type": "OAuthException", "code": 190},
		})
	})

	fb := newFacebookChannel(NewGraphClient(srv.URL, "test-token"), testPageID)
	_, err := fb.Fetch(context.Background())

	var fetchErr *utils.CollaboratorFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "conversations", fetchErr.Op)

	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)
	assert.Equal(t, http.StatusUnauthorized, graphErr.Status)
	assert.Equal(t, 190, graphErr.Code)
}

func TestFacebookSend(t *testing.T) {
	var got map[string]interface{}
	srv := newGraphServer(t, func(srv *httptest.Server, w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/me/messages", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		writeJSON(w, map[string]string{"recipient_id": "user-1", "message_id": "m.100"})
	})

	fb := newFacebookChannel(NewGraphClient(srv.URL, "test-token"), testPageID)
	require.NoError(t, fb.Send(context.Background(), models.Outbound{Recipient: "user-1", Body: "hi there"}))

	assert.Equal(t, map[string]interface{}{"id": "user-1"}, got["recipient"])
	assert.Equal(t, map[string]interface{}{"text": "hi there"}, got["message"])
}

func TestFacebookMarkReadUnsupported(t *testing.T) {
	fb := newFacebookChannel(NewGraphClient("http://unused", "test-token"), testPageID)
	err := fb.MarkRead(context.Background(), models.Conversation{ID: "user-1"})
	assert.ErrorIs(t, err, utils.ErrUnsupported)
}

func TestGraphURL(t *testing.T) {
	g := NewGraphClient("https://graph.example.com/v18.0/", "tok")
	assert.Equal(t, "https://graph.example.com/v18.0/me/conversations?fields=id", g.URL("/me/conversations", map[string][]string{"fields": {"id"}}))
	assert.Equal(t, "https://graph.example.com/v18.0/123/messages", g.URL("123/messages", nil))
}
