package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHubServer(t *testing.T) (*fixture, *Hub, *httptest.Server) {
	t.Helper()
	f := newFixture(t)
	hub := NewHub(f.manager, []string{"*"})

	r := mux.NewRouter()
	r.HandleFunc("/ws", hub.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return f, hub, srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?session=" + sessionID
	return websocket.DefaultDialer.Dial(url, nil)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub(t *testing.T) {
	t.Run("pushes the current state then every change", func(t *testing.T) {
		f, hub, srv := newHubServer(t)
		id := f.manager.Create().ID

		conn, _, err := dial(t, srv, id)
		require.NoError(t, err)
		defer conn.Close()

		first := readMessage(t, conn)
		assert.Equal(t, MessageSessionState, first.Type)
		require.NotNil(t, first.Session)
		assert.Equal(t, StatusIdle, first.Session.Status)
		assert.Equal(t, 1, hub.ConnectionCount(id))

		_, err = f.manager.ApplySuggestion(id, 3)
		require.NoError(t, err)

		next := readMessage(t, conn)
		assert.Equal(t, MessageSessionState, next.Type)
		assert.Equal(t, "Cinematic lighting", next.Session.EditPrompt)
	})

	t.Run("other sessions are not notified", func(t *testing.T) {
		f, _, srv := newHubServer(t)
		watched := f.manager.Create().ID
		other := f.manager.Create().ID

		conn, _, err := dial(t, srv, watched)
		require.NoError(t, err)
		defer conn.Close()
		readMessage(t, conn)

		_, err = f.manager.SetEditPrompt(other, "ignored")
		require.NoError(t, err)
		_, err = f.manager.SetEditPrompt(watched, "seen")
		require.NoError(t, err)

		msg := readMessage(t, conn)
		assert.Equal(t, watched, msg.SessionID)
		assert.Equal(t, "seen", msg.Session.EditPrompt)
	})

	t.Run("deleting the session closes the connection", func(t *testing.T) {
		f, hub, srv := newHubServer(t)
		id := f.manager.Create().ID

		conn, _, err := dial(t, srv, id)
		require.NoError(t, err)
		defer conn.Close()
		readMessage(t, conn)

		require.NoError(t, f.manager.Delete(id))

		msg := readMessage(t, conn)
		assert.Equal(t, MessageSessionClosed, msg.Type)
		assert.Equal(t, id, msg.SessionID)
		assert.Nil(t, msg.Session)

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
		assert.Zero(t, hub.ConnectionCount(id))
	})

	t.Run("unknown session is rejected before upgrade", func(t *testing.T) {
		_, _, srv := newHubServer(t)

		_, resp, err := dial(t, srv, "missing")
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}
