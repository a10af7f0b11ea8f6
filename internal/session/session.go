// Package session implements the single-session RPC façade (C4): it
// enforces at-most-one active terminal session per process, routes
// input/resize/stop by opaque handle, and guarantees exactly-once exit
// delivery with no output after stop.
package session

import (
	"encoding/base64"
	"encoding/json"
	"sync"

	"github.com/term-relay/term-relay-sdk/internal/rpc"
)

// Hello is the static descriptor returned by ext.hello (§3 "Hello
// descriptor"). It is pure: every extension returns the same value on every
// call for the lifetime of the process.
type Hello struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Version         string       `json:"version"`
	ProtocolVersion string       `json:"protocol_version"`
	Capabilities    Capabilities `json:"capabilities"`
}

// Capabilities enumerates what an extension can do, per §3.
type Capabilities struct {
	CanSpawn                 bool `json:"can_spawn"`
	CanAttach                bool `json:"can_attach"`
	CanTakeover              bool `json:"can_takeover"`
	CanListTargets           bool `json:"can_list_targets"`
	HasHistorySnapshot       bool `json:"has_history_snapshot"`
	HasNativeLayoutEvents    bool `json:"has_native_layout_events"`
	SupportsSharedInput      bool `json:"supports_shared_input"`
	SupportsControllerResize bool `json:"supports_controller_resize"`
	SupportsRestoreOnStop    bool `json:"supports_restore_on_stop"`
}

// Runtime is the capability set a backend-specific session must satisfy to
// plug into the façade: an opaque handle, current geometry, and the three
// mutating operations. internal/bridge.Runtime and internal/tmuxsession's
// session type both implement this.
type Runtime interface {
	Handle() string
	Rows() int
	Cols() int
	WriteInput(data []byte)
	Resize(rows, cols int)
	Stop()
}

// StartFunc constructs a Runtime from ext.start's params. It may block (an
// attach handshake, a tmux command invocation) and must not hold any façade
// lock while doing so; the façade releases its lock before invoking it, per
// the start protocol in §4.4.
type StartFunc func(params json.RawMessage, emitOutput func(handle string, data []byte), emitExit func(handle, reason string)) (Runtime, error)

const (
	errSessionRunning = 4001
	errSessionMissing = 4004
)

// Facade is the single-session RPC server: it registers ext.hello,
// ext.health, ext.start, ext.input, ext.resize, and ext.stop, and owns zero
// or one active Runtime at a time.
type Facade struct {
	rpc   *rpc.Server
	hello Hello
	start StartFunc

	mu      sync.Mutex
	session Runtime
}

// NewFacade registers the six façade methods on srv and returns the
// resulting Facade. hello is returned verbatim by ext.hello; start
// constructs the backend-specific Runtime for ext.start.
func NewFacade(srv *rpc.Server, hello Hello, start StartFunc) *Facade {
	f := &Facade{rpc: srv, hello: hello, start: start}

	srv.Register("ext.hello", f.handleHello)
	srv.Register("ext.health", f.handleHealth)
	srv.Register("ext.start", f.handleStart)
	srv.Register("ext.input", f.handleInput)
	srv.Register("ext.resize", f.handleResize)
	srv.Register("ext.stop", f.handleStop)
	srv.OnClose(f.handleClose)

	return f
}

func (f *Facade) handleHello(_ json.RawMessage) (any, error) {
	return f.hello, nil
}

func (f *Facade) handleHealth(_ json.RawMessage) (any, error) {
	f.mu.Lock()
	active := f.session != nil
	f.mu.Unlock()
	return map[string]any{"ok": true, "active": active}, nil
}

func (f *Facade) handleStart(params json.RawMessage) (any, error) {
	f.mu.Lock()
	if f.session != nil {
		f.mu.Unlock()
		return nil, rpc.NewError(errSessionRunning, "session already running")
	}
	f.mu.Unlock()

	// The attach handshake may block; it must not hold the façade lock (§4.4
	// start protocol, step 2).
	runtime, err := f.start(params, f.emitOutput, f.emitExit)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.session != nil {
		// Another ext.start raced us and won; tear down the runtime we just
		// built and report the conflict (§4.4 start protocol, step 3).
		f.mu.Unlock()
		runtime.Stop()
		return nil, rpc.NewError(errSessionRunning, "session already running")
	}
	f.session = runtime
	f.mu.Unlock()

	return map[string]any{
		"session_handle": runtime.Handle(),
		"rows":           runtime.Rows(),
		"cols":           runtime.Cols(),
	}, nil
}

func (f *Facade) handleInput(params json.RawMessage) (any, error) {
	var req struct {
		SessionHandle string `json:"session_handle"`
		DataB64       string `json:"data_b64"`
	}
	_ = json.Unmarshal(params, &req)

	runtime, err := f.requireSession(req.SessionHandle)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(req.DataB64)
	if err != nil {
		return nil, rpc.NewError(rpc.ErrParseOrInvalidParams, "invalid data_b64")
	}

	runtime.WriteInput(data)
	return map[string]any{"ok": true}, nil
}

func (f *Facade) handleResize(params json.RawMessage) (any, error) {
	var req struct {
		SessionHandle string `json:"session_handle"`
		Rows          int    `json:"rows"`
		Cols          int    `json:"cols"`
	}
	_ = json.Unmarshal(params, &req)

	runtime, err := f.requireSession(req.SessionHandle)
	if err != nil {
		return nil, err
	}
	if req.Rows <= 0 || req.Cols <= 0 {
		return nil, rpc.NewError(rpc.ErrParseOrInvalidParams, "rows and cols must be > 0")
	}

	runtime.Resize(req.Rows, req.Cols)
	return map[string]any{"ok": true}, nil
}

func (f *Facade) handleStop(params json.RawMessage) (any, error) {
	var req struct {
		SessionHandle string `json:"session_handle"`
	}
	_ = json.Unmarshal(params, &req)

	f.mu.Lock()
	runtime := f.session
	if runtime != nil && (req.SessionHandle == "" || req.SessionHandle == runtime.Handle()) {
		f.session = nil
	} else {
		runtime = nil
	}
	f.mu.Unlock()

	if runtime != nil {
		runtime.Stop()
	}
	return map[string]any{"ok": true}, nil
}

// requireSession resolves the active runtime for an exact handle match.
// ext.input and ext.resize never treat an empty handle as a wildcard — only
// ext.stop does, and it implements that matching inline.
func (f *Facade) requireSession(handle string) (Runtime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	runtime := f.session
	if runtime == nil || handle == "" || handle != runtime.Handle() {
		return nil, rpc.NewError(errSessionMissing, "session not found")
	}
	return runtime, nil
}

func (f *Facade) emitOutput(handle string, data []byte) {
	if len(data) == 0 {
		return
	}
	f.rpc.Notify("event.output", map[string]any{
		"session_handle": handle,
		"data_b64":       base64.StdEncoding.EncodeToString(data),
	})
}

func (f *Facade) emitExit(handle, reason string) {
	f.mu.Lock()
	if f.session != nil && f.session.Handle() == handle {
		f.session = nil
	}
	f.mu.Unlock()

	f.rpc.Notify("event.exit", map[string]any{
		"session_handle": handle,
		"reason":         reason,
	})
}

// handleClose stops the active session (if any) when stdin closes, so
// backend resources aren't leaked when the hub disconnects.
func (f *Facade) handleClose() {
	f.mu.Lock()
	runtime := f.session
	f.session = nil
	f.mu.Unlock()

	if runtime != nil {
		runtime.Stop()
	}
}
