// Package bridge implements the generic terminal bridge runtime (C5.1): it
// adapts any backend transport (tmux control mode, an external iTerm2
// socket) to the session.Runtime contract, handling the attach handshake,
// idempotent stop, and exactly-once exit/no-output-after-stop guarantees.
package bridge

import (
	"encoding/hex"
	"sync"

	"github.com/google/uuid"
	"github.com/term-relay/term-relay-sdk/internal/rpc"
)

// Start is the backend-agnostic request to open a terminal, parsed from
// ext.start's params by ParseStart (§4.6).
type Start struct {
	Target  string
	Command []string
	Rows    int
	Cols    int
	Term    string
}

const (
	defaultRows = 24
	defaultCols = 80
	defaultTerm = "xterm-256color"
)

// ParseStart resolves the §4.6 start-command shape: target defaults to the
// first command element when target is empty, dimensions fall back to
// 24x80/xterm-256color when absent or non-positive.
func ParseStart(target string, command []string, rows, cols int, term string) (Start, error) {
	target = trimSpace(target)
	if target == "" && len(command) > 0 {
		target = trimSpace(command[0])
	}
	if target == "" {
		return Start{}, rpc.NewError(rpc.ErrParseOrInvalidParams, "target is required")
	}

	if rows <= 0 {
		rows = defaultRows
	}
	if cols <= 0 {
		cols = defaultCols
	}
	if term == "" {
		term = defaultTerm
	}
	if command == nil {
		command = []string{}
	}

	return Start{Target: target, Command: command, Rows: rows, Cols: cols, Term: term}, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' }

// Transport is the capability set a concrete backend (the iTerm2 socket
// transport; a future bridge-mode backend) must implement. connect may
// block on a network or attach handshake up to the transport's own
// configured timeout.
type Transport interface {
	SetEventHandlers(onOutput func(data []byte), onExit func(reason string))
	Connect(start Start) (rows, cols int, ok bool, err error)
	SendInput(data []byte)
	SendResize(rows, cols int)
	Close()
}

// NewHandle mints a session handle: a 128-bit random value, hex-encoded to
// the spec's literal 32-character form (§3 "Session").
func NewHandle() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// Runtime owns a Transport and the handle/geometry/stopped bookkeeping a
// session.Runtime needs. It is constructed synchronously by NewRuntime,
// which performs the attach handshake before returning.
type Runtime struct {
	handle string
	target string
	term   string

	transport Transport
	emitOut   func(handle string, data []byte)
	emitExit  func(handle, reason string)

	mu          sync.Mutex
	rows        int
	cols        int
	stopped     bool
	exitSent    bool
	connected   bool
	pendingExit *string
}

// NewRuntime installs its own output/exit interceptors on transport, then
// calls transport.Connect(start). If Connect reports ready dimensions they
// override the requested ones (§4.5.1 step 2). Connect errors propagate to
// the caller without creating a Runtime — no session is created and no
// exit notification follows, per §7 error taxonomy item 4: any exit the
// transport fires while Connect is still in flight is held back and
// discarded if Connect fails, since the hub never learns of a handle for
// an attach that never succeeded.
func NewRuntime(start Start, transport Transport, emitOutput func(handle string, data []byte), emitExit func(handle, reason string)) (*Runtime, error) {
	r := &Runtime{
		handle:    NewHandle(),
		target:    start.Target,
		term:      start.Term,
		transport: transport,
		emitOut:   emitOutput,
		emitExit:  emitExit,
		rows:      start.Rows,
		cols:      start.Cols,
	}

	transport.SetEventHandlers(r.onOutput, r.onExit)

	rows, cols, ok, err := transport.Connect(start)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.connected = true
	pending := r.pendingExit
	r.mu.Unlock()
	if pending != nil {
		r.onExit(*pending)
	}

	if ok && rows > 0 && cols > 0 {
		r.rows, r.cols = rows, cols
	}

	return r, nil
}

func (r *Runtime) Handle() string { return r.handle }
func (r *Runtime) Target() string { return r.target }
func (r *Runtime) Term() string   { return r.term }

func (r *Runtime) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

func (r *Runtime) Cols() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cols
}

// WriteInput forwards data to the transport unless the runtime has stopped.
func (r *Runtime) WriteInput(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}
	r.transport.SendInput(data)
}

// Resize rejects non-positive dimensions and no-ops once stopped.
func (r *Runtime) Resize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.rows, r.cols = rows, cols
	r.mu.Unlock()
	r.transport.SendResize(rows, cols)
}

// Stop is idempotent: only the first call closes the transport.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	r.transport.Close()
}

func (r *Runtime) onOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}
	r.emitOut(r.handle, data)
}

// onExit is the transport's exit callback. While Connect is still in
// flight (r.connected is false), the exit is held in r.pendingExit instead
// of being forwarded: NewRuntime replays it after a successful Connect, or
// discards it silently if Connect fails, so attach-time failures never
// produce a notification for a session the hub never saw (§7 item 4).
func (r *Runtime) onExit(reason string) {
	r.mu.Lock()
	if r.exitSent {
		r.mu.Unlock()
		return
	}
	if !r.connected {
		r.pendingExit = &reason
		r.mu.Unlock()
		return
	}
	r.exitSent = true
	r.mu.Unlock()
	r.emitExit(r.handle, reason)
}
