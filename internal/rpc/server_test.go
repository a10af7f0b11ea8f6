package rpc

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/term-relay/term-relay-sdk/internal/ioline"
)

func newTestServer(t *testing.T, input string) (*Server, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	ch := ioline.NewChannel(strings.NewReader(input), &out)
	return NewServer(ch), &out
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var results []map[string]any
	for _, line := range strings.Split(strings.TrimRight(buf.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode response line %q: %v", line, err)
		}
		results = append(results, m)
	}
	return results
}

func TestHandleLineMethodNotFound(t *testing.T) {
	srv, out := newTestServer(t, `{"jsonrpc":"2.0","id":1,"method":"ext.bogus","params":{}}`+"\n")
	srv.Run()

	msgs := decodeLines(t, out)
	if len(msgs) != 1 {
		t.Fatalf("got %d responses, want 1", len(msgs))
	}
	errObj, ok := msgs[0]["error"].(map[string]any)
	if !ok {
		t.Fatalf("response %v has no error object", msgs[0])
	}
	if int(errObj["code"].(float64)) != ErrMethodNotFound {
		t.Errorf("error code = %v, want %d", errObj["code"], ErrMethodNotFound)
	}
}

func TestHandleLineParamsMustBeObject(t *testing.T) {
	srv, out := newTestServer(t, `{"jsonrpc":"2.0","id":1,"method":"ext.hello","params":[1,2,3]}`+"\n")
	srv.Register("ext.hello", func(json.RawMessage) (any, error) { return "unreachable", nil })
	srv.Run()

	msgs := decodeLines(t, out)
	errObj := msgs[0]["error"].(map[string]any)
	if int(errObj["code"].(float64)) != ErrParseOrInvalidParams {
		t.Errorf("error code = %v, want %d", errObj["code"], ErrParseOrInvalidParams)
	}
}

func TestHandleLineMalformedJSONIsDropped(t *testing.T) {
	srv, out := newTestServer(t, "not json\n")
	srv.Run()

	if out.Len() != 0 {
		t.Fatalf("expected no response for malformed JSON, got %q", out.String())
	}
}

func TestHandleLineMissingMethodIsDropped(t *testing.T) {
	srv, out := newTestServer(t, `{"jsonrpc":"2.0","id":1}`+"\n")
	srv.Run()

	if out.Len() != 0 {
		t.Fatalf("expected no response for missing method, got %q", out.String())
	}
}

func TestHandleLineDomainErrorPropagatesCode(t *testing.T) {
	srv, out := newTestServer(t, `{"jsonrpc":"2.0","id":1,"method":"ext.start","params":{}}`+"\n")
	srv.Register("ext.start", func(json.RawMessage) (any, error) {
		return nil, NewError(4001, "session already running")
	})
	srv.Run()

	msgs := decodeLines(t, out)
	errObj := msgs[0]["error"].(map[string]any)
	if int(errObj["code"].(float64)) != 4001 {
		t.Errorf("error code = %v, want 4001", errObj["code"])
	}
	if errObj["message"] != "session already running" {
		t.Errorf("error message = %v, want %q", errObj["message"], "session already running")
	}
}

func TestHandleLineIDRoundTripsRaw(t *testing.T) {
	srv, out := newTestServer(t, `{"jsonrpc":"2.0","id":"req-42","method":"ext.hello","params":{}}`+"\n")
	srv.Register("ext.hello", func(json.RawMessage) (any, error) { return map[string]any{"ok": true}, nil })
	srv.Run()

	msgs := decodeLines(t, out)
	if msgs[0]["id"] != "req-42" {
		t.Errorf("id = %v, want %q", msgs[0]["id"], "req-42")
	}
}

func TestOnCloseRunsAfterStdinExhausted(t *testing.T) {
	srv, _ := newTestServer(t, "")
	called := false
	srv.OnClose(func() { called = true })
	srv.Run()

	if !called {
		t.Errorf("OnClose hook did not run")
	}
}
