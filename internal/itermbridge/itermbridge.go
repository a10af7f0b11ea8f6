// Package itermbridge implements the iTerm2 socket bridge backend (C5.2):
// a UNIX-domain socket transport speaking newline-delimited JSON frames to
// an external bridge process, translated to the internal/bridge.Transport
// contract.
//
// Grounded on original_source/extensions/python_sdk/iterm2.py's
// Iterm2SocketTransport, carried into the daemon's net/socket idiom (the
// daemon itself talks to external processes over similar framed
// connections in internal/ws, which this backend replaces for the
// iTerm2 extension).
package itermbridge

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/term-relay/term-relay-sdk/internal/bridge"
)

// DefaultConnectTimeout bounds both the initial dial and the attach
// handshake wait (§6 "bridge_socket").
const DefaultConnectTimeout = 2 * time.Second

// SocketTransport implements bridge.Transport over a UNIX-domain socket.
type SocketTransport struct {
	socketPath     string
	connectTimeout time.Duration
	dial           func(path string, timeout time.Duration) (net.Conn, error)

	onOutput func(data []byte)
	onExit   func(reason string)

	writeMu sync.Mutex
	conn    net.Conn

	stateMu     sync.Mutex
	closed      bool
	exitEmitted bool

	attached      chan struct{}
	attachedOnce  sync.Once
	attachedRows  int
	attachedCols  int
	attachErr     string
}

// NewSocketTransport constructs a transport that will dial socketPath on
// Connect. A nil dial func defaults to net.DialTimeout("unix", ...).
func NewSocketTransport(socketPath string, connectTimeout time.Duration, dial func(path string, timeout time.Duration) (net.Conn, error)) *SocketTransport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	if dial == nil {
		dial = func(path string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("unix", path, timeout)
		}
	}
	return &SocketTransport{
		socketPath:     socketPath,
		connectTimeout: connectTimeout,
		dial:           dial,
		attached:       make(chan struct{}),
	}
}

func (t *SocketTransport) SetEventHandlers(onOutput func(data []byte), onExit func(reason string)) {
	t.onOutput = onOutput
	t.onExit = onExit
}

// Connect dials the bridge socket, sends an attach frame, and blocks for
// either an "attached" or a terminal "error"/"exit" frame (or the dial's own
// connect timeout), matching Iterm2SocketTransport.connect.
func (t *SocketTransport) Connect(start bridge.Start) (rows, cols int, ok bool, err error) {
	if start.Target == "" {
		return 0, 0, false, fmt.Errorf("iterm2 target is required")
	}

	conn, err := t.dial(t.socketPath, t.connectTimeout)
	if err != nil {
		return 0, 0, false, fmt.Errorf("dial iterm2 bridge socket: %w", err)
	}
	t.conn = conn

	go t.readLoop(conn)

	if err := t.sendFrame(map[string]any{
		"type":    "attach",
		"target":  start.Target,
		"command": start.Command,
		"rows":    start.Rows,
		"cols":    start.Cols,
		"term":    start.Term,
	}); err != nil {
		t.Close()
		return 0, 0, false, err
	}

	select {
	case <-t.attached:
	case <-time.After(t.connectTimeout):
		t.Close()
		return 0, 0, false, fmt.Errorf("iterm2 bridge attach timeout")
	}

	if t.attachErr != "" {
		t.Close()
		return 0, 0, false, fmt.Errorf("%s", t.attachErr)
	}
	if t.attachedRows > 0 && t.attachedCols > 0 {
		return t.attachedRows, t.attachedCols, true, nil
	}
	return 0, 0, false, nil
}

func (t *SocketTransport) SendInput(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = t.sendFrame(map[string]any{
		"type":     "input",
		"data_b64": base64.StdEncoding.EncodeToString(data),
	})
}

func (t *SocketTransport) SendResize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	_ = t.sendFrame(map[string]any{"type": "resize", "rows": rows, "cols": cols})
}

// Close is idempotent: it best-effort sends a detach frame, then tears the
// connection down.
func (t *SocketTransport) Close() {
	t.stateMu.Lock()
	if t.closed {
		t.stateMu.Unlock()
		return
	}
	t.closed = true
	t.stateMu.Unlock()

	_ = t.sendFrame(map[string]any{"type": "detach"})

	if t.conn != nil {
		_ = t.conn.Close()
	}
}

func (t *SocketTransport) sendFrame(frame map[string]any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("iterm2 bridge is not connected")
	}
	_, err = t.conn.Write(payload)
	return err
}

func (t *SocketTransport) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var frame map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		t.handleFrame(frame)
	}

	t.setAttachErrorIfPending("iterm2 bridge disconnected before attach")
	t.emitExitOnce("iterm2 bridge disconnected")
}

func (t *SocketTransport) handleFrame(frame map[string]any) {
	msgType, _ := frame["type"].(string)
	switch msgType {
	case "attached":
		t.attachedRows = asInt(frame["rows"])
		t.attachedCols = asInt(frame["cols"])
		t.signalAttached()

	case "error":
		message := asString(frame["message"], "iterm2 bridge error")
		t.setAttachErrorIfPending(message)
		t.emitExitOnce(message)

	case "output":
		dataB64, _ := frame["data_b64"].(string)
		if dataB64 == "" {
			return
		}
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return
		}
		if t.onOutput != nil {
			t.onOutput(data)
		}

	case "exit":
		reason := asString(frame["reason"], "iterm2 bridge exit")
		t.setAttachErrorIfPending(reason)
		t.emitExitOnce(reason)
	}
}

func (t *SocketTransport) signalAttached() {
	t.attachedOnce.Do(func() { close(t.attached) })
}

func (t *SocketTransport) setAttachErrorIfPending(message string) {
	select {
	case <-t.attached:
		return
	default:
	}
	t.attachErr = message
	t.signalAttached()
}

func (t *SocketTransport) emitExitOnce(reason string) {
	t.stateMu.Lock()
	if t.exitEmitted {
		t.stateMu.Unlock()
		return
	}
	t.exitEmitted = true
	t.stateMu.Unlock()
	if t.onExit != nil {
		t.onExit(reason)
	}
}

func asInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	default:
		return 0
	}
}

func asString(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
