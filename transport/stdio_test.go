package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoScript is a tiny shell program that echoes back every JSON-RPC
// request it reads on stdin as a successful response.
const echoScript = `while IFS= read -r line; do
  id=$(echo "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  printf '{"jsonrpc":"2.0","id":%s,"result":"ok"}\n' "$id"
done`

func TestStdioTransportRequestResponseRoundTrip(t *testing.T) {
	tr := NewStdioTransport(StdioOptions{
		Command:        "/bin/sh",
		Args:           []string{"-c", echoScript},
		ConnectTimeout: 2 * time.Second,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	defer tr.Disconnect()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	result, err := tr.SendRequest(reqCtx, "ping", map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Contains(t, string(result), "ok")
}

func TestStdioTransportRejectsRequestsWhenDisconnected(t *testing.T) {
	tr := NewStdioTransport(StdioOptions{Command: "/bin/sh", Args: []string{"-c", "exit 0"}}, nil)
	_, err := tr.SendRequest(context.Background(), "ping", nil)
	require.Error(t, err)
}

func TestStdioTransportConnectTimeoutOnMissingCommand(t *testing.T) {
	tr := NewStdioTransport(StdioOptions{
		Command:        "/definitely/not/a/real/binary",
		ConnectTimeout: 500 * time.Millisecond,
	}, nil)

	err := tr.Connect(context.Background())
	require.Error(t, err)
}
