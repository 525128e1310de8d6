package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autoforge/acp/core"
)

// StdioOptions configures a child-process JSON-RPC channel.
type StdioOptions struct {
	Command        string
	Args           []string
	Env            []string
	Dir            string
	ConnectTimeout time.Duration
}

// StdioTransport speaks newline-delimited JSON-RPC 2.0 over a spawned
// child process's stdin/stdout, logging stderr as diagnostics.
type StdioTransport struct {
	handlerSet

	opts   StdioOptions
	logger core.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	connected atomic.Bool
	pending   *pendingTable
	nextID    atomic.Int64
}

// NewStdioTransport constructs a StdioTransport. Connect must be called
// before any SendRequest/SendNotification.
func NewStdioTransport(opts StdioOptions, logger core.Logger) *StdioTransport {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &StdioTransport{opts: opts, logger: logger, pending: newPendingTable()}
}

// Connect spawns the child process and starts the stdout/stderr readers.
// If the process fails to start within ConnectTimeout, the spawn is
// abandoned and an error is returned.
func (t *StdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected.Load() {
		return core.NewFrameworkError("StdioTransport.Connect", core.ErrCodeInternal, core.ErrAlreadyStarted)
	}

	cmd := exec.CommandContext(ctx, t.opts.Command, t.opts.Args...)
	if t.opts.Dir != "" {
		cmd.Dir = t.opts.Dir
	}
	if len(t.opts.Env) > 0 {
		cmd.Env = t.opts.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return core.NewFrameworkError("StdioTransport.Connect", core.ErrCodeInternal, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return core.NewFrameworkError("StdioTransport.Connect", core.ErrCodeInternal, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return core.NewFrameworkError("StdioTransport.Connect", core.ErrCodeInternal, err)
	}

	spawned := make(chan error, 1)
	go func() { spawned <- cmd.Start() }()

	select {
	case err := <-spawned:
		if err != nil {
			return core.NewFrameworkError("StdioTransport.Connect", core.ErrCodeInternal, err)
		}
	case <-time.After(t.opts.ConnectTimeout):
		go func() {
			if err := <-spawned; err == nil {
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
			}
		}()
		return &core.TimeoutError{Op: "StdioTransport.Connect", DurationMs: t.opts.ConnectTimeout.Milliseconds()}
	case <-ctx.Done():
		return ctx.Err()
	}

	t.cmd = cmd
	t.stdin = stdin
	t.connected.Store(true)

	go t.readLoop(stdout)
	go t.stderrLoop(stderr)
	go t.waitLoop()

	return nil
}

// readLoop consumes newline-delimited JSON-RPC frames from stdout.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		t.handleLine([]byte(line))
	}
}

// stderrLoop surfaces the child's stderr as diagnostic log lines.
func (t *StdioTransport) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		t.logger.Warn("stdio child stderr", map[string]interface{}{"line": scanner.Text()})
	}
}

// waitLoop blocks for process exit and emits the close event, failing any
// requests still pending.
func (t *StdioTransport) waitLoop() {
	err := t.cmd.Wait()
	t.connected.Store(false)

	code := 0
	reason := "exited"
	if err != nil {
		reason = err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	t.pending.failAll(core.ErrCodeNotConnected, "stdio transport closed: "+reason)
	t.emitClose(code, reason)
}

func (t *StdioTransport) handleLine(line []byte) {
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		t.emitError(core.NewFrameworkError("StdioTransport.handleLine", core.ErrCodeProtocol, err))
		return
	}

	if f.ID != nil && (f.Result != nil || f.Error != nil) {
		resp := &Response{JSONRPC: "2.0", ID: *f.ID, Result: f.Result, Error: f.Error}
		t.pending.resolve(idToString(*f.ID), resp)
		return
	}

	t.emitMessage(f.Method, line)
}

// Disconnect terminates the child process, if still running.
func (t *StdioTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected.Load() || t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}

// IsConnected reports whether the child process is currently running.
func (t *StdioTransport) IsConnected() bool { return t.connected.Load() }

// SendRequest writes a JSON-RPC request frame to stdin and waits for the
// correlated response.
func (t *StdioTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, core.NewFrameworkError("StdioTransport.SendRequest", core.ErrCodeNotConnected, core.ErrNotConnected)
	}

	id := t.nextID.Add(1)
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, core.NewFrameworkError("StdioTransport.SendRequest", core.ErrCodeValidation, err)
	}
	req := Request{JSONRPC: "2.0", ID: id, Method: method, Params: paramsJSON}
	line, err := json.Marshal(req)
	if err != nil {
		return nil, core.NewFrameworkError("StdioTransport.SendRequest", core.ErrCodeValidation, err)
	}

	idStr := idToString(int64(id))
	waiter := t.pending.register(idStr)

	if err := t.writeLine(line); err != nil {
		t.pending.remove(idStr)
		return nil, core.NewFrameworkError("StdioTransport.SendRequest", core.ErrCodeNotConnected, err)
	}

	select {
	case resp := <-waiter:
		if resp.Error != nil {
			if resp.Error.Code == RPCErrDisconnected {
				return nil, core.NewFrameworkError("StdioTransport.SendRequest", core.ErrCodeNotConnected, resp.Error)
			}
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.pending.remove(idStr)
		return nil, &core.TimeoutError{Op: "StdioTransport.SendRequest"}
	}
}

// SendNotification writes a fire-and-forget JSON-RPC notification frame.
func (t *StdioTransport) SendNotification(method string, params interface{}) error {
	if !t.connected.Load() {
		return core.NewFrameworkError("StdioTransport.SendNotification", core.ErrCodeNotConnected, core.ErrNotConnected)
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return core.NewFrameworkError("StdioTransport.SendNotification", core.ErrCodeValidation, err)
	}
	notif := Notification{JSONRPC: "2.0", Method: method, Params: paramsJSON}
	line, err := json.Marshal(notif)
	if err != nil {
		return core.NewFrameworkError("StdioTransport.SendNotification", core.ErrCodeValidation, err)
	}
	return t.writeLine(line)
}

func (t *StdioTransport) writeLine(line []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stdin == nil {
		return fmt.Errorf("stdio transport not connected")
	}
	if _, err := t.stdin.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
