// Package transport implements the duplex JSON-RPC 2.0 abstraction shared
// by the stdio and WebSocket realizations.
package transport

import (
	"encoding/json"
	"sync"

	"github.com/autoforge/acp/core"
)

// JSON-RPC 2.0 standard error codes.
const (
	RPCErrParse          = -32700
	RPCErrInvalidRequest = -32600
	RPCErrMethodNotFound = -32601
	RPCErrInvalidParams  = -32602
	RPCErrInternal       = -32603

	// RPCErrDisconnected is a reserved-range server error used for
	// synthetic responses manufactured by failAll when the connection
	// drops out from under a pending request.
	RPCErrDisconnected = -32000
)

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC 2.0 request frame with no id — no response
// is expected.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Response is a JSON-RPC 2.0 response frame — exactly one of Result/Error
// is populated.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// frame is used only to classify an incoming line/message as a response
// (has "id" and either "result" or "error") versus a notification/request.
type frame struct {
	ID     *interface{}    `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// MessageHandler receives notifications and server-initiated requests —
// any inbound frame that does not correlate to a pending local request.
type MessageHandler func(method string, params json.RawMessage)

// ErrorHandler receives malformed-frame and transport-level errors. It
// never tears down the transport.
type ErrorHandler func(err error)

// CloseHandler fires exactly once when the transport's connection is lost,
// carrying a process exit code/signal (stdio) or WebSocket close code.
type CloseHandler func(code int, reason string)

// pendingTable tracks in-flight requests correlated by id, shared by both
// transport realizations.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan *Response
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan *Response)}
}

func (p *pendingTable) register(id string) chan *Response {
	ch := make(chan *Response, 1)
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingTable) resolve(id string, resp *Response) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()
	if ok {
		ch <- resp
	}
	return ok
}

func (p *pendingTable) remove(id string) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// failAll resolves every pending waiter with a disconnect error, used when
// the underlying connection is lost. The JSON-RPC numeric code surfaced to
// callers reflects code so SendRequest can recover the typed core.ErrorCode
// instead of only seeing a generic internal error.
func (p *pendingTable) failAll(code core.ErrorCode, message string) {
	rpcCode := RPCErrInternal
	if code == core.ErrCodeNotConnected {
		rpcCode = RPCErrDisconnected
	}

	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[string]chan *Response)
	p.mu.Unlock()

	for id, ch := range waiters {
		ch <- &Response{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &RPCError{Code: rpcCode, Message: message},
		}
	}
}

func idToString(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}
