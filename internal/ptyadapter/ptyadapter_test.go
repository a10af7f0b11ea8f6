package ptyadapter

import (
	"sync"
	"testing"
	"time"
)

func TestOnStartPropagatesExitReason(t *testing.T) {
	a := New(0)

	var mu sync.Mutex
	var exitReason string
	var output [][]byte
	exited := make(chan struct{})

	a.SetEmitters(func(data []byte) {
		mu.Lock()
		output = append(output, data)
		mu.Unlock()
	}, func(reason string) {
		mu.Lock()
		exitReason = reason
		mu.Unlock()
		close(exited)
	})

	_, _, err := a.OnStart([]string{"/bin/sh", "-c", "exit 3"}, 24, 80, "xterm")
	if err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exit notification")
	}

	mu.Lock()
	defer mu.Unlock()
	if exitReason != "exit status 3" {
		t.Errorf("exit reason = %q, want %q (S5)", exitReason, "exit status 3")
	}
}

func TestOnStartRequiresCommand(t *testing.T) {
	a := New(0)
	a.SetEmitters(func([]byte) {}, func(string) {})

	if _, _, err := a.OnStart(nil, 24, 80, "xterm"); err == nil {
		t.Fatal("OnStart(nil command): want error")
	}
}

func TestOnInputWritesToChild(t *testing.T) {
	a := New(0)

	var mu sync.Mutex
	var output []byte
	gotEcho := make(chan struct{})
	var once sync.Once

	a.SetEmitters(func(data []byte) {
		mu.Lock()
		output = append(output, data...)
		hasEcho := len(output) >= len("hi\r\n")
		mu.Unlock()
		if hasEcho {
			once.Do(func() { close(gotEcho) })
		}
	}, func(string) {})

	rows, cols, err := a.OnStart([]string{"/bin/cat"}, 24, 80, "xterm")
	if err != nil {
		t.Fatalf("OnStart() error = %v", err)
	}
	if rows != 24 || cols != 80 {
		t.Errorf("OnStart() dims = %d/%d, want 24/80", rows, cols)
	}

	a.OnInput([]byte("hi\n"))

	select {
	case <-gotEcho:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pty echo of written input")
	}

	a.OnStop()
}
