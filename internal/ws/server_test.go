package ws

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, port int, query string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/?%s", port, query)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func collectEvents(s *Server) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.SetDispatch(func(e Event) { ch <- e })
	return ch, s.UnsetDispatch
}

func nextEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a websocket event")
		return nil
	}
}

func TestServerQueuesEventsUntilDispatchAttached(t *testing.T) {
	s, werr := NewServer(NoPort{}, nil)
	require.Nil(t, werr)
	defer s.Close()

	client := dial(t, s.Port(), "elmWatchVersion=1.0.0&output=a.js&compiledTimestamp=0")
	defer client.Close()
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"tag":"ChangeCompilationMode","compilationMode":"debug"}`)))

	// Give the server a moment to receive both events while detached.
	time.Sleep(200 * time.Millisecond)

	ch, _ := collectEvents(s)

	connected, ok := nextEvent(t, ch).(ClientConnected)
	require.True(t, ok, "first queued event must be the connect")
	assert.Contains(t, connected.URL, "elmWatchVersion=1.0.0")
	assert.False(t, connected.Date.IsZero())

	received, ok := nextEvent(t, ch).(MessageReceived)
	require.True(t, ok, "second queued event must be the message")
	assert.False(t, received.Binary)
	assert.Equal(t, connected.Conn, received.Conn)
}

func TestServerReportsClose(t *testing.T) {
	s, werr := NewServer(NoPort{}, nil)
	require.Nil(t, werr)
	defer s.Close()

	ch, _ := collectEvents(s)

	client := dial(t, s.Port(), "elmWatchVersion=1.0.0&output=a.js&compiledTimestamp=0")
	connected, ok := nextEvent(t, ch).(ClientConnected)
	require.True(t, ok)

	client.Close()
	closed, ok := nextEvent(t, ch).(ClientClosed)
	require.True(t, ok)
	assert.Equal(t, connected.Conn, closed.Conn)
}

func TestServerFlagsBinaryFrames(t *testing.T) {
	s, werr := NewServer(NoPort{}, nil)
	require.Nil(t, werr)
	defer s.Close()

	ch, _ := collectEvents(s)

	client := dial(t, s.Port(), "elmWatchVersion=1.0.0&output=a.js&compiledTimestamp=0")
	defer client.Close()
	nextEvent(t, ch) // connect

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	received, ok := nextEvent(t, ch).(MessageReceived)
	require.True(t, ok)
	assert.True(t, received.Binary)
}

func TestServerSendReachesClient(t *testing.T) {
	s, werr := NewServer(NoPort{}, nil)
	require.Nil(t, werr)
	defer s.Close()

	ch, _ := collectEvents(s)

	client := dial(t, s.Port(), "elmWatchVersion=1.0.0&output=a.js&compiledTimestamp=0")
	defer client.Close()
	connected := nextEvent(t, ch).(ClientConnected)

	connected.Conn.Send(EncodeStatusChanged(Busy{}))

	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"tag":"StatusChanged","status":{"tag":"Busy"}}`, string(data))
}

func TestUnsetDispatchRequeues(t *testing.T) {
	s, werr := NewServer(NoPort{}, nil)
	require.Nil(t, werr)
	defer s.Close()

	ch, unset := collectEvents(s)

	client := dial(t, s.Port(), "elmWatchVersion=1.0.0&output=a.js&compiledTimestamp=0")
	defer client.Close()
	nextEvent(t, ch) // connect

	unset()
	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{}`)))
	time.Sleep(200 * time.Millisecond)

	select {
	case e := <-ch:
		t.Fatalf("event delivered while detached: %T", e)
	default:
	}

	ch2, _ := collectEvents(s)
	if _, ok := nextEvent(t, ch2).(MessageReceived); !ok {
		t.Fatal("re-attached dispatch should drain the queued message")
	}
}

func TestPersistedPortFallsBackWhenTaken(t *testing.T) {
	// Occupy a port, then ask for it as a persisted port.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	takenPort := blocker.Addr().(*net.TCPAddr).Port

	s, werr := NewServer(PersistedPort(takenPort), nil)
	require.Nil(t, werr)
	defer s.Close()
	assert.NotEqual(t, takenPort, s.Port())
}

func TestPortFromConfigConflictIsFatal(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()
	takenPort := blocker.Addr().(*net.TCPAddr).Port

	_, werr := NewServer(PortFromConfig(takenPort), nil)
	require.NotNil(t, werr)
}
