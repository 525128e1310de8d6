package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/autoforge/acp/core"
)

const (
	wsReadDeadline  = 60 * time.Second
	wsWriteDeadline = 10 * time.Second
)

// WebSocketOptions configures a WebSocketTransport.
type WebSocketOptions struct {
	URL     string
	Headers http.Header

	ConnectTimeout       time.Duration
	PingInterval         time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int // 0 means unlimited
}

func (o *WebSocketOptions) applyDefaults() {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 30 * time.Second
	}
}

// WebSocketTransport speaks one JSON-RPC 2.0 message per WebSocket frame,
// reconnecting automatically with bounded exponential backoff unless the
// peer closes with the normal-closure code.
type WebSocketTransport struct {
	handlerSet

	opts   WebSocketOptions
	logger core.Logger
	dialer *websocket.Dialer

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     atomic.Bool
	closing       atomic.Bool
	pending       *pendingTable
	nextID        atomic.Int64
	send          chan []byte
	reconnectStop chan struct{}
}

// NewWebSocketTransport constructs a WebSocketTransport. Connect dials the
// configured URL and, on unexpected disconnect, reconnects automatically
// until Disconnect is called.
func NewWebSocketTransport(opts WebSocketOptions, logger core.Logger) *WebSocketTransport {
	opts.applyDefaults()
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WebSocketTransport{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.ConnectTimeout},
		pending: newPendingTable(),
	}
}

// Connect dials the WebSocket endpoint and starts the read/write pumps.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return core.NewFrameworkError("WebSocketTransport.Connect", core.ErrCodeInternal, core.ErrAlreadyStarted)
	}
	t.closing.Store(false)

	if err := t.dial(ctx); err != nil {
		return err
	}

	t.reconnectStop = make(chan struct{})
	return nil
}

func (t *WebSocketTransport) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()

	conn, _, err := t.dialer.DialContext(dialCtx, t.opts.URL, t.opts.Headers)
	if err != nil {
		return core.NewFrameworkError("WebSocketTransport.Connect", core.ErrCodeNotConnected, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.send = make(chan []byte, 64)
	t.mu.Unlock()
	t.connected.Store(true)

	go t.readPump()
	go t.writePump()

	return nil
}

// readPump reads frames until the connection fails, then triggers
// reconnection (unless Disconnect initiated the closure).
func (t *WebSocketTransport) readPump() {
	conn := t.conn
	conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadDeadline))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.handleDisconnect(err)
			return
		}
		t.handleFrame(message)
	}
}

func (t *WebSocketTransport) handleFrame(message []byte) {
	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		t.emitError(core.NewFrameworkError("WebSocketTransport.handleFrame", core.ErrCodeProtocol, err))
		return
	}
	if f.ID != nil && (f.Result != nil || f.Error != nil) {
		resp := &Response{JSONRPC: "2.0", ID: *f.ID, Result: f.Result, Error: f.Error}
		t.pending.resolve(idToString(*f.ID), resp)
		return
	}
	t.emitMessage(f.Method, message)
}

// writePump serializes writes to the connection and sends periodic pings.
func (t *WebSocketTransport) writePump() {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	conn := t.conn
	for {
		select {
		case msg, ok := <-t.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.handleDisconnect(err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.handleDisconnect(err)
				return
			}
		}
	}
}

// handleDisconnect fails pending requests, emits the close event, and
// schedules a reconnect unless the close was explicit or normal-closure.
func (t *WebSocketTransport) handleDisconnect(err error) {
	if !t.connected.CompareAndSwap(true, false) {
		return
	}

	code := websocket.CloseAbnormalClosure
	reason := err.Error()
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	}

	t.pending.failAll(core.ErrCodeNotConnected, "websocket disconnected: "+reason)
	t.emitClose(code, reason)

	if t.closing.Load() || code == websocket.CloseNormalClosure {
		return
	}
	go t.reconnectLoop()
}

// reconnectLoop retries the dial with bounded exponential backoff:
// delay = min(base * 2^(attempt-1), cap).
func (t *WebSocketTransport) reconnectLoop() {
	attempt := 0
	for {
		attempt++
		if t.opts.MaxReconnectAttempts > 0 && attempt > t.opts.MaxReconnectAttempts {
			return
		}

		delay := t.opts.ReconnectBaseDelay * time.Duration(1<<uint(attempt-1))
		if delay > t.opts.ReconnectMaxDelay {
			delay = t.opts.ReconnectMaxDelay
		}

		select {
		case <-time.After(delay):
		case <-t.reconnectStop:
			return
		}

		if t.closing.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.opts.ConnectTimeout)
		err := t.dial(ctx)
		cancel()
		if err == nil {
			return
		}
		t.logger.Warn("websocket reconnect attempt failed", map[string]interface{}{"attempt": attempt, "error": err.Error()})
	}
}

// Disconnect cancels pending reconnects, sends a normal-closure frame, and
// force-terminates the connection after a short grace period.
func (t *WebSocketTransport) Disconnect() error {
	t.closing.Store(true)
	if t.reconnectStop != nil {
		close(t.reconnectStop)
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}

	deadline := time.Now().Add(wsWriteDeadline)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	time.AfterFunc(2*time.Second, func() { conn.Close() })
	t.connected.Store(false)
	return nil
}

// IsConnected reports whether the socket is currently up.
func (t *WebSocketTransport) IsConnected() bool { return t.connected.Load() }

// SendRequest writes a JSON-RPC request frame and waits for the
// correlated response.
func (t *WebSocketTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, core.NewFrameworkError("WebSocketTransport.SendRequest", core.ErrCodeNotConnected, core.ErrNotConnected)
	}

	id := t.nextID.Add(1)
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, core.NewFrameworkError("WebSocketTransport.SendRequest", core.ErrCodeValidation, err)
	}
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	frameBytes, err := json.Marshal(req)
	if err != nil {
		return nil, core.NewFrameworkError("WebSocketTransport.SendRequest", core.ErrCodeValidation, err)
	}

	idStr := idToString(int64(id))
	waiter := t.pending.register(idStr)

	select {
	case t.send <- frameBytes:
	default:
		t.pending.remove(idStr)
		return nil, core.NewFrameworkError("WebSocketTransport.SendRequest", core.ErrCodeNotConnected, core.ErrNotConnected)
	}

	select {
	case resp := <-waiter:
		if resp.Error != nil {
			if resp.Error.Code == RPCErrDisconnected {
				return nil, core.NewFrameworkError("WebSocketTransport.SendRequest", core.ErrCodeNotConnected, resp.Error)
			}
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.pending.remove(idStr)
		return nil, &core.TimeoutError{Op: "WebSocketTransport.SendRequest"}
	}
}

// SendNotification writes a fire-and-forget JSON-RPC notification frame.
func (t *WebSocketTransport) SendNotification(method string, params interface{}) error {
	if !t.connected.Load() {
		return core.NewFrameworkError("WebSocketTransport.SendNotification", core.ErrCodeNotConnected, core.ErrNotConnected)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return core.NewFrameworkError("WebSocketTransport.SendNotification", core.ErrCodeValidation, err)
	}
	notif := Notification{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	frameBytes, err := json.Marshal(notif)
	if err != nil {
		return core.NewFrameworkError("WebSocketTransport.SendNotification", core.ErrCodeValidation, err)
	}
	select {
	case t.send <- frameBytes:
		return nil
	default:
		return core.NewFrameworkError("WebSocketTransport.SendNotification", core.ErrCodeNotConnected, core.ErrNotConnected)
	}
}
