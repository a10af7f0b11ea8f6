package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/term-relay/term-relay-sdk/internal/ioline"
	"github.com/term-relay/term-relay-sdk/internal/rpc"
)

type fakeRuntime struct {
	handle     string
	rows, cols int
	stopCount  int32
	input      [][]byte
	resizes    [][2]int
}

func (f *fakeRuntime) Handle() string { return f.handle }
func (f *fakeRuntime) Rows() int      { return f.rows }
func (f *fakeRuntime) Cols() int      { return f.cols }
func (f *fakeRuntime) WriteInput(data []byte) {
	f.input = append(f.input, data)
}
func (f *fakeRuntime) Resize(rows, cols int) {
	f.resizes = append(f.resizes, [2]int{rows, cols})
}
func (f *fakeRuntime) Stop() {
	atomic.AddInt32(&f.stopCount, 1)
}

func newHarness(t *testing.T, input string, start StartFunc) (*bytes.Buffer, *Facade) {
	t.Helper()
	var out bytes.Buffer
	ch := ioline.NewChannel(strings.NewReader(input), &out)
	srv := rpc.NewServer(ch)
	hello := Hello{ID: "test", Name: "Test", Version: "0", ProtocolVersion: "1.0"}
	f := NewFacade(srv, hello, start)
	srv.Run()
	return &out, f
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

func TestStartThenStopIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{handle: "abc123", rows: 24, cols: 80}
	start := func(json.RawMessage, func(string, []byte), func(string, string)) (Runtime, error) {
		return rt, nil
	}

	lines := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ext.start","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"ext.stop","params":{}}`,
		`{"jsonrpc":"2.0","id":3,"method":"ext.stop","params":{}}`,
	}, "\n") + "\n"

	out, _ := newHarness(t, lines, start)
	msgs := decodeLines(t, out)
	if len(msgs) != 3 {
		t.Fatalf("got %d responses, want 3", len(msgs))
	}
	for i, m := range msgs {
		result, ok := m["result"].(map[string]any)
		if !ok || result["ok"] != true {
			if i == 0 {
				if result["session_handle"] != "abc123" {
					t.Errorf("start result = %v, want session_handle abc123", m)
				}
				continue
			}
			t.Errorf("response %d = %v, want ok:true", i, m)
		}
	}
	if rt.stopCount != 1 {
		t.Errorf("Stop() called %d times, want 1 (S6 idempotence)", rt.stopCount)
	}
}

func TestStartTwiceWithoutStopReportsSessionRunning(t *testing.T) {
	start := func(json.RawMessage, func(string, []byte), func(string, string)) (Runtime, error) {
		return &fakeRuntime{handle: "h1"}, nil
	}

	lines := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ext.start","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"ext.start","params":{}}`,
	}, "\n") + "\n"

	out, _ := newHarness(t, lines, start)
	msgs := decodeLines(t, out)

	errObj, ok := msgs[1]["error"].(map[string]any)
	if !ok {
		t.Fatalf("second start response = %v, want an error", msgs[1])
	}
	if int(errObj["code"].(float64)) != errSessionRunning {
		t.Errorf("error code = %v, want %d", errObj["code"], errSessionRunning)
	}
}

func TestInputRejectsWrongHandle(t *testing.T) {
	rt := &fakeRuntime{handle: "correct-handle"}
	start := func(json.RawMessage, func(string, []byte), func(string, string)) (Runtime, error) {
		return rt, nil
	}

	lines := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ext.start","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"ext.input","params":{"session_handle":"wrong-handle","data_b64":"aGk="}}`,
	}, "\n") + "\n"

	out, _ := newHarness(t, lines, start)
	msgs := decodeLines(t, out)

	errObj, ok := msgs[1]["error"].(map[string]any)
	if !ok {
		t.Fatalf("input with wrong handle = %v, want an error", msgs[1])
	}
	if int(errObj["code"].(float64)) != errSessionMissing {
		t.Errorf("error code = %v, want %d", errObj["code"], errSessionMissing)
	}
	if len(rt.input) != 0 {
		t.Errorf("WriteInput called with wrong handle: %v", rt.input)
	}
}

func TestInputForwardsDecodedBytes(t *testing.T) {
	rt := &fakeRuntime{handle: "h1"}
	start := func(json.RawMessage, func(string, []byte), func(string, string)) (Runtime, error) {
		return rt, nil
	}

	payload := base64.StdEncoding.EncodeToString([]byte("ls\r"))
	lines := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ext.start","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"ext.input","params":{"session_handle":"h1","data_b64":"` + payload + `"}}`,
	}, "\n") + "\n"

	newHarness(t, lines, start)

	if len(rt.input) != 1 || string(rt.input[0]) != "ls\r" {
		t.Errorf("WriteInput calls = %v, want one call with \"ls\\r\"", rt.input)
	}
}

func TestResizeRejectsNonPositiveDimensions(t *testing.T) {
	rt := &fakeRuntime{handle: "h1"}
	start := func(json.RawMessage, func(string, []byte), func(string, string)) (Runtime, error) {
		return rt, nil
	}

	lines := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ext.start","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"ext.resize","params":{"session_handle":"h1","rows":0,"cols":0}}`,
	}, "\n") + "\n"

	out, _ := newHarness(t, lines, start)
	msgs := decodeLines(t, out)

	errObj, ok := msgs[1]["error"].(map[string]any)
	if !ok {
		t.Fatalf("resize 0x0 response = %v, want an error", msgs[1])
	}
	if int(errObj["code"].(float64)) != rpc.ErrParseOrInvalidParams {
		t.Errorf("error code = %v, want %d", errObj["code"], rpc.ErrParseOrInvalidParams)
	}
	if len(rt.resizes) != 0 {
		t.Errorf("Resize called with 0x0: %v", rt.resizes)
	}
}

func TestStopWithEmptyHandleIsWildcard(t *testing.T) {
	rt := &fakeRuntime{handle: "any-handle"}
	start := func(json.RawMessage, func(string, []byte), func(string, string)) (Runtime, error) {
		return rt, nil
	}

	lines := strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"ext.start","params":{}}`,
		`{"jsonrpc":"2.0","id":2,"method":"ext.stop","params":{}}`,
	}, "\n") + "\n"

	newHarness(t, lines, start)
	if rt.stopCount != 1 {
		t.Errorf("Stop() called %d times via wildcard stop, want 1", rt.stopCount)
	}
}

func TestConcurrentStartRaceOnlyOneWins(t *testing.T) {
	var startCalls int32
	var mu sync.Mutex
	var runtimes []*fakeRuntime

	start := func(json.RawMessage, func(string, []byte), func(string, string)) (Runtime, error) {
		atomic.AddInt32(&startCalls, 1)
		rt := &fakeRuntime{handle: "race"}
		mu.Lock()
		runtimes = append(runtimes, rt)
		mu.Unlock()
		return rt, nil
	}

	var out bytes.Buffer
	ch := ioline.NewChannel(strings.NewReader(""), &out)
	srv := rpc.NewServer(ch)
	hello := Hello{ID: "test"}
	f := NewFacade(srv, hello, start)

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := f.handleStart(json.RawMessage(`{}`))
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("%d of %d concurrent ext.start calls succeeded, want exactly 1", successes, n)
	}
}
