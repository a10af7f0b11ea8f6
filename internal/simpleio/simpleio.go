// Package simpleio implements the Simple I/O protocol (C2): the
// non-RPC start/input/resize/stop -> output/exit/ready framing used by the
// spawn extension. It reuses internal/ioline for the wire format and
// delegates the actual terminal to an Adapter (internal/ptyadapter).
package simpleio

import (
	"encoding/base64"
	"encoding/json"

	"github.com/term-relay/term-relay-sdk/internal/ioline"
)

const (
	defaultRows = 24
	defaultCols = 80
	defaultTerm = "xterm-256color"
)

// Adapter is the backend contract for the Simple I/O protocol. OnStart may
// return an error, which is fatal per §4.2: the server emits one exit frame
// and the process exits non-zero.
type Adapter interface {
	SetEmitters(emitOutput func(data []byte), emitExit func(reason string))
	OnStart(command []string, rows, cols int, term string) (rowsOut, colsOut int, err error)
	OnInput(data []byte)
	OnResize(rows, cols int)
	OnStop()
}

// Server drives the Simple I/O request loop over a line Channel.
type Server struct {
	ch      *ioline.Channel
	adapter Adapter
	started bool
}

// NewServer wires adapter's emitters to ch and returns a ready Server.
func NewServer(ch *ioline.Channel, adapter Adapter) *Server {
	s := &Server{ch: ch, adapter: adapter}
	adapter.SetEmitters(s.emitOutput, s.emitExit)
	return s
}

func (s *Server) emitOutput(data []byte) {
	if len(data) == 0 {
		return
	}
	s.ch.Send(map[string]any{
		"type":     "output",
		"data_b64": base64.StdEncoding.EncodeToString(data),
	})
}

func (s *Server) emitExit(reason string) {
	s.ch.Send(map[string]any{"type": "exit", "reason": reason})
}

type frame struct {
	Type    string   `json:"type"`
	Command []string `json:"command"`
	Rows    int      `json:"rows"`
	Cols    int      `json:"cols"`
	Term    string   `json:"term"`
	DataB64 string   `json:"data_b64"`
}

// Run drives the request loop until EOF, a stop frame, or a fatal error.
// Returns the process exit code: 0 on EOF or stop, 1 if a line is not valid
// JSON or OnStart failed.
func (s *Server) Run() int {
	exitCode := 0
	stoppedExplicitly := false

	s.ch.Each(func(line string) bool {
		if line == "" {
			return true
		}

		var f frame
		if err := json.Unmarshal([]byte(line), &f); err != nil {
			s.emitExit("invalid json: " + err.Error())
			exitCode = 1
			return false
		}

		switch f.Type {
		case "start":
			if s.started {
				return true
			}
			rows, cols := f.Rows, f.Cols
			if rows <= 0 {
				rows = defaultRows
			}
			if cols <= 0 {
				cols = defaultCols
			}
			term := f.Term
			if term == "" {
				term = defaultTerm
			}

			readyRows, readyCols, err := s.adapter.OnStart(f.Command, rows, cols, term)
			if err != nil {
				s.emitExit(err.Error())
				exitCode = 1
				return false
			}
			s.started = true
			s.ch.Send(map[string]any{"type": "ready", "rows": readyRows, "cols": readyCols})

		case "input":
			if f.DataB64 == "" {
				return true
			}
			data, err := base64.StdEncoding.DecodeString(f.DataB64)
			if err != nil {
				return true // decode failures are silently dropped, per §4.2
			}
			s.adapter.OnInput(data)

		case "resize":
			s.adapter.OnResize(f.Rows, f.Cols)

		case "stop":
			s.adapter.OnStop()
			stoppedExplicitly = true
			return false // stop the loop with status 0

		default:
			// unknown type: ignored
		}
		return true
	})

	if s.started && !stoppedExplicitly {
		s.adapter.OnStop()
	}

	return exitCode
}
