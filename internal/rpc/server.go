// Package rpc implements the JSON-RPC 2.0 request loop (C3) shared by the
// tmux and iTerm2 extensions: method dispatch over a line channel, with
// domain errors mapped to JSON-RPC error objects.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/term-relay/term-relay-sdk/internal/ioline"
)

const jsonrpcVersion = "2.0"

// Error carries an explicit JSON-RPC error code alongside its message. A
// handler that wants a specific code (-32602, 4001, 4004, ...) returns one
// of these; any other error maps to -32603.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError is a convenience constructor for handler code.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

const (
	ErrParseOrInvalidParams = -32602
	ErrMethodNotFound       = -32601
	ErrInternal             = -32603
)

// Handler processes one request's params and returns a JSON-marshalable
// result, or an error (ideally an *Error for a specific code).
type Handler func(params json.RawMessage) (any, error)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Server is a single-reader JSON-RPC request loop over a line Channel. It is
// safe for handlers to call Notify concurrently from background threads
// (PTY readers, tmux readers, bridge sockets) while the main loop dispatches
// requests, because the underlying Channel serializes writes.
type Server struct {
	ch       *ioline.Channel
	handlers map[string]Handler
	onClose  func()
}

// NewServer constructs a Server writing frames to ch.
func NewServer(ch *ioline.Channel) *Server {
	return &Server{
		ch:       ch,
		handlers: make(map[string]Handler),
	}
}

// Register installs the handler for method.
func (s *Server) Register(method string, fn Handler) {
	s.handlers[method] = fn
}

// OnClose installs a hook run exactly once after the stdin line loop ends.
func (s *Server) OnClose(fn func()) {
	s.onClose = fn
}

// Notify emits a method call with no id — an asynchronous event rather than
// a response.
func (s *Server) Notify(method string, params any) {
	s.ch.Send(map[string]any{
		"jsonrpc": jsonrpcVersion,
		"method":  method,
		"params":  params,
	})
}

// Run drives the request loop until stdin is exhausted, then invokes the
// close hook. It always returns 0: protocol-level failures are represented
// as error responses, never as a non-zero process exit (that is reserved
// for the Simple I/O variant, see internal/simpleio).
func (s *Server) Run() int {
	s.ch.Each(func(line string) bool {
		s.handleLine(line)
		return true
	})
	if s.onClose != nil {
		s.onClose()
	}
	return 0
}

func (s *Server) handleLine(line string) {
	if line == "" {
		return
	}

	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return // malformed JSON: silently dropped, per C3 step 1
	}
	if req.Method == "" {
		return // non-string/empty method: silently dropped, per C3 step 2
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage("{}")
	} else if !looksLikeObject(params) {
		s.sendError(req.ID, ErrParseOrInvalidParams, "params must be a json object")
		return
	}

	fn, ok := s.handlers[req.Method]
	if !ok {
		s.sendError(req.ID, ErrMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
		return
	}

	result, err := fn(params)
	if err != nil {
		if rpcErr, ok := err.(*Error); ok {
			s.sendError(req.ID, rpcErr.Code, rpcErr.Message)
		} else {
			s.sendError(req.ID, ErrInternal, err.Error())
		}
		return
	}

	s.ch.Send(map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      req.ID,
		"result":  result,
	})
}

func (s *Server) sendError(id json.RawMessage, code int, message string) {
	s.ch.Send(map[string]any{
		"jsonrpc": jsonrpcVersion,
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func looksLikeObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}
