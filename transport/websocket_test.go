package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			_ = json.Unmarshal(msg, &f)
			if f.ID != nil {
				resp, _ := json.Marshal(Response{JSONRPC: "2.0", ID: *f.ID, Result: json.RawMessage(`"pong"`)})
				conn.WriteMessage(websocket.TextMessage, resp)
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + server.URL[len("http"):]
}

func TestWebSocketTransportRequestResponseRoundTrip(t *testing.T) {
	server := newEchoServer(t)
	defer server.Close()

	tr := NewWebSocketTransport(WebSocketOptions{URL: wsURL(server), ConnectTimeout: time.Second}, nil)
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	result, err := tr.SendRequest(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, `"pong"`, string(result))
}

func TestWebSocketTransportRejectsWhenDisconnected(t *testing.T) {
	tr := NewWebSocketTransport(WebSocketOptions{URL: "ws://127.0.0.1:1"}, nil)
	_, err := tr.SendRequest(context.Background(), "ping", nil)
	require.Error(t, err)
}

func TestWebSocketTransportConnectFailsOnBadURL(t *testing.T) {
	tr := NewWebSocketTransport(WebSocketOptions{URL: "ws://127.0.0.1:1", ConnectTimeout: 300 * time.Millisecond}, nil)
	err := tr.Connect(context.Background())
	require.Error(t, err)
}
