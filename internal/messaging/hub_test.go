package messaging

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, hub *Hub, userID, room string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(ws, userID, room)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Online(userID) > 0 }, time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wsEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev wsEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubBroadcastsToRoom(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, "alice", "conv-1")
	assert.Equal(t, "presence_join", readEvent(t, conn).Type)

	assert.Equal(t, 1, hub.Broadcast("conv-1", "message_new", map[string]string{"id": "m1"}))
	assert.Zero(t, hub.Broadcast("conv-2", "message_new", nil))

	ev := readEvent(t, conn)
	assert.Equal(t, "message_new", ev.Type)
	assert.Equal(t, "m1", ev.Data.(map[string]any)["id"])
}

func TestHubPushToUser(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, "bob", "")

	assert.Equal(t, 1, hub.PushToUser("bob", map[string]string{"type": "notification"}))
	assert.Zero(t, hub.PushToUser("carol", "ignored"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got map[string]string
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "notification", got["type"])
}

func TestHubForgetsClosedClients(t *testing.T) {
	hub := NewHub()
	conn := dial(t, hub, "dave", "")
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.Online("dave") == 0 }, 2*time.Second, 10*time.Millisecond)
}
