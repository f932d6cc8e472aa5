// Package testhelpers provides common utilities for exercising the room chat
// server over real HTTP and WebSocket connections in tests.
package testhelpers

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/Tyrowin/roomchat/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds every read performed by these helpers.
const DefaultTimeout = 2 * time.Second

// Event is a decoded server frame.
type Event struct {
	Name string
	Data map[string]any
}

// WebSocketURL turns an httptest server URL into its /ws endpoint.
func WebSocketURL(t *testing.T, serverURL string) string {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// ConnectWebSocket dials url with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}
	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url, reads the "connected" greeting and returns the
// connection with the id the server assigned. The connection is closed when
// the test ends.
func MustConnect(t *testing.T, url, origin string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := ConnectWebSocket(url, origin)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	evt := ReadEvent(t, conn)
	require.Equal(t, "connected", evt.Name)
	id, ok := evt.Data["id"].(string)
	require.True(t, ok, "connected event without id: %v", evt.Data)
	return conn, id
}

// SendEvent writes one envelope.
func SendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(protocol.Envelope{Event: event, Data: raw}))
}

// ReadEvent reads the next envelope, failing the test after DefaultTimeout.
func ReadEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(DefaultTimeout)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	evt := Event{Name: env.Event}
	if len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, &evt.Data))
	}
	return evt
}

// ExpectEvent reads until an event called name arrives and returns it.
// Other events are skipped.
func ExpectEvent(t *testing.T, conn *websocket.Conn, name string) Event {
	t.Helper()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		evt := ReadEvent(t, conn)
		if evt.Name == name {
			return evt
		}
	}
	require.FailNow(t, "event not received", "expected %q", name)
	return Event{}
}

// ExpectNoEvent asserts that nothing arrives within timeout. A timed out
// connection cannot be read from again, so this must be the last read.
func ExpectNoEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, frame, err := conn.ReadMessage()
	if err == nil {
		require.FailNow(t, "expected no event", "received %s", string(frame))
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	require.FailNow(t, "unexpected error while waiting for absence of event", "%v", err)
}

// CloseWebSocket sends a normal close frame and closes the connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
