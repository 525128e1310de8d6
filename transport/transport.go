package transport

import (
	"context"
	"encoding/json"
)

// Transport is the duplex JSON-RPC 2.0 channel both concrete realizations
// (stdio, WebSocket) implement.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)
	SendNotification(method string, params interface{}) error
	OnMessage(handler MessageHandler)
	OnError(handler ErrorHandler)
	OnClose(handler CloseHandler)
	IsConnected() bool
}

// handlerSet is the mutable hook bag every realization embeds. Setting a
// handler more than once replaces the previous one, matching a
// single-subscriber observer per hook (no fan-out at this layer — the bus
// is responsible for fan-out above the transport).
type handlerSet struct {
	onMessage MessageHandler
	onError   ErrorHandler
	onClose   CloseHandler
}

// OnMessage registers the handler invoked for inbound notifications and
// server-initiated requests.
func (h *handlerSet) OnMessage(handler MessageHandler) { h.onMessage = handler }

// OnError registers the handler invoked for malformed frames and
// transport-level errors.
func (h *handlerSet) OnError(handler ErrorHandler) { h.onError = handler }

// OnClose registers the handler invoked exactly once when the connection
// is lost.
func (h *handlerSet) OnClose(handler CloseHandler) { h.onClose = handler }

func (h *handlerSet) emitMessage(method string, params json.RawMessage) {
	if h.onMessage != nil {
		h.onMessage(method, params)
	}
}

func (h *handlerSet) emitError(err error) {
	if h.onError != nil {
		h.onError(err)
	}
}

func (h *handlerSet) emitClose(code int, reason string) {
	if h.onClose != nil {
		h.onClose(code, reason)
	}
}
