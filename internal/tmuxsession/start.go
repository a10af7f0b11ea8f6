package tmuxsession

import (
	"encoding/json"

	"github.com/term-relay/term-relay-sdk/internal/rpc"
	"github.com/term-relay/term-relay-sdk/internal/session"
)

// StartParams is the ext.start payload for the tmux extension (§4.5.3):
// a literal argv-style command where command[0] is conventionally "share"
// followed by the pane target, plus the requested initial geometry.
type StartParams struct {
	Command        []string `json:"command"`
	Rows           int      `json:"rows"`
	Cols           int      `json:"cols"`
	RelayOriginOpt string   `json:"relay_origin_option"`
}

// DefaultRelayOriginOption is used whenever ext.start's params omit
// relay_origin_option. Overridable at process startup from config.
var DefaultRelayOriginOption = RelayOriginPaneOption

// StartTmuxControlSession is a session.StartFunc: it parses the start
// command, enforces the nested-attach mutex, and spawns a control-mode
// Session.
func StartTmuxControlSession(params json.RawMessage, emitOutput func(handle string, data []byte), emitExit func(handle, reason string)) (session.Runtime, error) {
	var p StartParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, rpc.NewError(rpc.ErrParseOrInvalidParams, "invalid params: "+err.Error())
	}

	target, allowNested, err := ParseStartCommand(p.Command)
	if err != nil {
		return nil, err
	}

	relayOriginOpt := p.RelayOriginOpt
	if relayOriginOpt == "" {
		relayOriginOpt = DefaultRelayOriginOption
	}

	if !allowNested {
		if err := CheckNotNested(target, relayOriginOpt); err != nil {
			return nil, err
		}
	}

	return Start(target, p.Rows, p.Cols, emitOutput, emitExit)
}
