// Package ptyadapter implements the PTY backend (C5a) consumed by the
// Simple I/O protocol: it opens a pseudoterminal, launches the requested
// command as a session leader, and bridges PTY I/O to the simpleio
// emitters. Grounded on the daemon's internal/tmux/pty_bridge.go PTY usage,
// generalized from "attach to an existing tmux session" to "spawn an
// arbitrary command directly".
package ptyadapter

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

const (
	defaultRows      = 24
	defaultCols      = 80
	defaultTerm      = "xterm-256color"
	defaultReadChunk = 4096
)

// Adapter implements internal/simpleio.Adapter by driving a single PTY
// child process.
type Adapter struct {
	readChunk int

	emitOutput func(data []byte)
	emitExit   func(reason string)

	mu       sync.Mutex
	ptmx     *os.File
	cmd      *exec.Cmd
	stopFlag bool
	exitOnce sync.Once
}

// New returns a PTY adapter with no child started yet. readChunkSize <= 0
// falls back to defaultReadChunk.
func New(readChunkSize int) *Adapter {
	if readChunkSize <= 0 {
		readChunkSize = defaultReadChunk
	}
	return &Adapter{readChunk: readChunkSize}
}

// SetEmitters wires the output/exit callbacks the simpleio server will
// forward to the hub.
func (a *Adapter) SetEmitters(emitOutput func(data []byte), emitExit func(reason string)) {
	a.emitOutput = emitOutput
	a.emitExit = emitExit
}

// OnStart opens a pseudoterminal pair, launches command as a detached
// session leader, and starts the read and wait threads (§4.2 "PTY
// adapter"). Returns the effective (rows, cols) once sizing is applied.
func (a *Adapter) OnStart(command []string, rows, cols int, term string) (int, int, error) {
	if len(command) == 0 {
		return 0, 0, errors.New("start.command is required")
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

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), "TERM="+term)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return 0, 0, fmt.Errorf("start pty: %w", err)
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})

	a.mu.Lock()
	a.ptmx = ptmx
	a.cmd = cmd
	a.mu.Unlock()

	go a.readLoop()
	go a.waitLoop()

	return rows, cols, nil
}

// OnInput writes data to the PTY master. Errors (the descriptor is closed
// or the child is gone) are dropped; the caller has no recourse.
func (a *Adapter) OnInput(data []byte) {
	if len(data) == 0 {
		return
	}
	a.mu.Lock()
	ptmx := a.ptmx
	a.mu.Unlock()
	if ptmx == nil {
		return
	}
	_, _ = ptmx.Write(data)
}

// OnResize applies a new window size; non-positive values are a no-op.
func (a *Adapter) OnResize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	a.mu.Lock()
	ptmx := a.ptmx
	a.mu.Unlock()
	if ptmx == nil {
		return
	}
	_ = pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// OnStop closes the PTY master (forcing the read loop's next read to
// error) and interrupts the child if it is still running.
func (a *Adapter) OnStop() {
	a.mu.Lock()
	a.stopFlag = true
	ptmx := a.ptmx
	a.ptmx = nil
	cmd := a.cmd
	a.cmd = nil
	a.mu.Unlock()

	if ptmx != nil {
		_ = ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(os.Interrupt)
	}
}

func (a *Adapter) readLoop() {
	buf := make([]byte, a.readChunk)
	for {
		a.mu.Lock()
		ptmx := a.ptmx
		a.mu.Unlock()
		if ptmx == nil {
			return
		}

		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.emitOutput(chunk)
		}
		if err != nil {
			if err == io.EOF || errors.Is(err, os.ErrClosed) {
				return
			}
			var pathErr *os.PathError
			if errors.As(err, &pathErr) {
				return
			}
			return
		}
	}
}

func (a *Adapter) waitLoop() {
	a.mu.Lock()
	cmd := a.cmd
	a.mu.Unlock()
	if cmd == nil {
		a.notifyExit("EOF")
		return
	}

	err := cmd.Wait()
	if err == nil {
		a.notifyExit("EOF")
		return
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		a.notifyExit(fmt.Sprintf("exit status %d", exitErr.ExitCode()))
		return
	}
	a.notifyExit(fmt.Sprintf("exit status %d", -1))
}

func (a *Adapter) notifyExit(reason string) {
	a.exitOnce.Do(func() {
		a.emitExit(reason)
	})
}
