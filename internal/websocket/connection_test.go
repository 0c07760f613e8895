package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// dialPair returns a server-side gorilla connection and the client that dialed it.
func dialPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	select {
	case server := <-serverConns:
		return server, client
	case <-time.After(2 * time.Second):
		t.Fatal("server side never upgraded")
		return nil, nil
	}
}

func TestConnection_ImplementsInterface(t *testing.T) {
	var _ interfaces.Connection = (*Connection)(nil)
}

func TestConnection_SendDeliversJSON(t *testing.T) {
	server, client := dialPair(t)
	conn := NewConnection(server, types.Claims{ID: "u1"}, 0, 0)
	defer conn.Close()

	assert.Equal(t, "u1", conn.UserID())
	assert.Equal(t, DefaultBufferSize, cap(conn.writeCh))
	assert.True(t, conn.Connected())

	require.NoError(t, conn.Send(types.Event{Type: types.EventUserJoined, SessionID: "s1", UserID: "u2"}))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got types.Event
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, types.EventUserJoined, got.Type)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "u2", got.UserID)
}

func TestConnection_PreservesSendOrder(t *testing.T) {
	server, client := dialPair(t)
	conn := NewConnection(server, types.Claims{ID: "u1"}, 10, time.Second)
	defer conn.Close()

	for i := 0; i < 20; i++ {
		require.NoError(t, conn.Send(map[string]int{"n": i}))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 20; i++ {
		var got map[string]int
		require.NoError(t, client.ReadJSON(&got))
		assert.Equal(t, i, got["n"])
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	server, _ := dialPair(t)
	conn := NewConnection(server, types.Claims{ID: "u1"}, 0, 0)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	assert.False(t, conn.Connected())

	select {
	case <-conn.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}

	assert.ErrorIs(t, conn.Send(map[string]string{"a": "b"}), ErrConnectionClosed)
}

func TestConnection_SendRejectsUnencodableValues(t *testing.T) {
	server, _ := dialPair(t)
	conn := NewConnection(server, types.Claims{ID: "u1"}, 0, 0)
	defer conn.Close()

	err := conn.Send(make(chan int))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestConnection_CloseFlushesQueuedFrames(t *testing.T) {
	server, client := dialPair(t)
	conn := NewConnection(server, types.Claims{ID: "u1"}, 10, time.Second)

	for i := 0; i < 3; i++ {
		require.NoError(t, conn.Send(map[string]int{"n": i}))
	}
	require.NoError(t, conn.Close())

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < 3; i++ {
		var got map[string]int
		require.NoError(t, client.ReadJSON(&got))
		assert.Equal(t, i, got["n"])
	}
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
