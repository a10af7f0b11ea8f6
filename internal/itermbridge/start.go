package itermbridge

import (
	"encoding/json"
	"time"

	"github.com/term-relay/term-relay-sdk/internal/bridge"
	"github.com/term-relay/term-relay-sdk/internal/rpc"
	"github.com/term-relay/term-relay-sdk/internal/session"
)

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

// StartParams is the ext.start payload for the iTerm2 extension: a target
// window/tab/pane identifier, an optional command, requested geometry, and
// an optional per-request bridge_socket override (§6).
type StartParams struct {
	Target       string   `json:"target"`
	Command      []string `json:"command"`
	Rows         int      `json:"rows"`
	Cols         int      `json:"cols"`
	Term         string   `json:"term"`
	BridgeSocket string   `json:"bridge_socket"`
}

// NewStartFunc returns a session.StartFunc bound to defaultSocketPath and
// connectTimeout, matching start_iterm2_socket_session's parameter
// defaulting: a request's own "bridge_socket" wins when present, otherwise
// defaultSocketPath (itself resolved from config/TERM_RELAY_ITERM2_BRIDGE_SOCKET)
// applies.
func NewStartFunc(defaultSocketPath string, connectTimeout func() int) session.StartFunc {
	return func(params json.RawMessage, emitOutput func(handle string, data []byte), emitExit func(handle, reason string)) (session.Runtime, error) {
		var p StartParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, rpc.NewError(rpc.ErrParseOrInvalidParams, "invalid params: "+err.Error())
		}

		start, err := bridge.ParseStart(p.Target, p.Command, p.Rows, p.Cols, p.Term)
		if err != nil {
			return nil, err
		}

		socketPath := p.BridgeSocket
		if socketPath == "" {
			socketPath = defaultSocketPath
		}
		if socketPath == "" {
			return nil, rpc.NewError(rpc.ErrParseOrInvalidParams, "bridge_socket is required")
		}

		timeout := DefaultConnectTimeout
		if connectTimeout != nil {
			if secs := connectTimeout(); secs > 0 {
				timeout = secondsToDuration(secs)
			}
		}

		transport := NewSocketTransport(socketPath, timeout, nil)
		return bridge.NewRuntime(start, transport, emitOutput, emitExit)
	}
}
