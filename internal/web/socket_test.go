package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vilaca/gh-finder/internal/domain"
	"github.com/vilaca/gh-finder/internal/history"
)

func dialSocket(t *testing.T, dir *mockDirectory) *websocket.Conn {
	t.Helper()
	sessions := newTestSessions(dir, history.NewMemoryStore())

	e := echo.New()
	NewHandler(HandlerConfig{Sessions: sessions, Directory: dir}).RegisterRoutes(e)
	server := httptest.NewServer(e)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	t.Cleanup(func() {
		conn.Close()
		server.Close()
		sessions.Close()
	})
	return conn
}

// readUntil reads messages until match returns true or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMessage) bool) serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg serverMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestSocket_InitialState(t *testing.T) {
	conn := dialSocket(t, &mockDirectory{})

	msg := readUntil(t, conn, func(m serverMessage) bool { return m.Type == MessageState })

	require.NotNil(t, msg.State)
	assert.Empty(t, msg.State.Committed)
	assert.Empty(t, msg.State.Recent)
}

func TestSocket_SubmitPushesProfile(t *testing.T) {
	// Arrange
	conn := dialSocket(t, &mockDirectory{})
	readUntil(t, conn, func(m serverMessage) bool { return m.Type == MessageState })

	// Act
	require.NoError(t, conn.WriteJSON(clientMessage{Type: MessageInput, Text: "octocat"}))
	require.NoError(t, conn.WriteJSON(clientMessage{Type: MessageSubmit}))

	// Assert
	msg := readUntil(t, conn, func(m serverMessage) bool {
		return m.Type == MessageState && m.State.Profile != nil && !m.State.Loading
	})
	assert.Equal(t, "octocat", msg.State.Profile.Login)
	assert.Equal(t, "octocat", msg.State.Committed)
	assert.Equal(t, []string{"octocat"}, msg.State.Recent)
}

func TestSocket_ErrorsArriveAsToast(t *testing.T) {
	dir := &mockDirectory{
		fetchProfileFunc: func(context.Context, string) (*domain.UserProfile, error) {
			return nil, &domain.APIError{StatusCode: http.StatusNotFound}
		},
	}
	conn := dialSocket(t, dir)
	readUntil(t, conn, func(m serverMessage) bool { return m.Type == MessageState })

	require.NoError(t, conn.WriteJSON(clientMessage{Type: MessageSelect, Login: "ghost", Source: SourceHistory}))

	msg := readUntil(t, conn, func(m serverMessage) bool { return m.Type == MessageToast })
	assert.Equal(t, domain.MessageNotFound, msg.Message)
}

func TestSocket_UnknownMessage(t *testing.T) {
	conn := dialSocket(t, &mockDirectory{})

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	unknown := readUntil(t, conn, func(m serverMessage) bool { return m.Type == MessageError })
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	invalid := readUntil(t, conn, func(m serverMessage) bool { return m.Type == MessageError })

	assert.Equal(t, "unknown message type", unknown.Message)
	assert.Equal(t, "invalid message format", invalid.Message)
}
