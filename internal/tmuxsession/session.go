// Package tmuxsession implements the tmux control-mode backend (C5.3): it
// spawns `tmux -C attach`, filters the `%output` stream by pane identity,
// decodes tmux's octal escape encoding, and drives input via
// `send-keys -H` and resize via `refresh-client -C`.
//
// Grounded on the daemon's internal/tmux/tmux.go exec.Command conventions
// (one tmux invocation per helper, with -t <target> on each) and on
// the pack's sergeknystautas-schmux internal/remote/controlmode parser for
// the %output line shape and octal unescaping.
package tmuxsession

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"

	"github.com/term-relay/term-relay-sdk/internal/bridge"
	"github.com/term-relay/term-relay-sdk/internal/rpc"
)

// RelayOriginPaneOption is the pane option used as a cross-pane mutex
// marker (§6 "Pane option @term_relay_origin").
const RelayOriginPaneOption = "@term_relay_origin"

var outputLineRe = regexp.MustCompile(`^%output (%\d+) (.*)$`)

// Bin is the tmux binary invoked for every command. Overridable for tests.
var Bin = "tmux"

// CheckNotNested queries relayOriginOpt on target and refuses to attach if
// it is already claimed by another relay instance (§4.5.3 step 2).
func CheckNotNested(target, relayOriginOpt string) error {
	origin, err := paneOption(target, relayOriginOpt)
	if err != nil {
		return rpc.NewError(rpc.ErrParseOrInvalidParams, fmt.Sprintf("failed to inspect pane metadata for %s: %v", target, err))
	}
	if origin != "" {
		return rpc.NewError(rpc.ErrParseOrInvalidParams, fmt.Sprintf("pane %s is marked as relay-managed (%s); use --allow-nested to override", target, origin))
	}
	return nil
}

func paneOption(target, option string) (string, error) {
	out, err := exec.Command(Bin, "display-message", "-t", target, "-p", "#{"+option+"}").Output()
	if err != nil {
		return "", err
	}
	value := string(bytes.TrimSpace(out))
	// tmux echoes the literal format string back when the option is unset.
	if value == "#{"+option+"}" {
		return "", nil
	}
	return value, nil
}

func displayMessage(target, format string) (string, error) {
	out, err := exec.Command(Bin, "display-message", "-t", target, "-p", format).Output()
	if err != nil {
		return "", fmt.Errorf("tmux display-message %s: %w", format, err)
	}
	return string(bytes.TrimSpace(out)), nil
}

func capturePane(target string) ([]byte, error) {
	out, err := exec.Command(Bin, "capture-pane", "-t", target, "-e", "-p", "-S", "-", "-E", "-").Output()
	if err != nil {
		return nil, fmt.Errorf("tmux capture-pane: %w", err)
	}
	return out, nil
}

// Session is a single tmux control-mode attachment; it implements
// session.Runtime directly (it does not use internal/bridge.Runtime
// because tmux's attach handshake has no single synchronous "connect"
// call — geometry is known up front and the history snapshot is emitted
// asynchronously after the control stream attaches).
type Session struct {
	handle     string
	target     string
	targetPane string

	cmd   *exec.Cmd
	stdin io.WriteCloser

	emitOutput func(handle string, data []byte)
	emitExit   func(handle, reason string)

	writeMu sync.Mutex

	mu       sync.Mutex
	rows     int
	cols     int
	stopped  bool
	exitOnce sync.Once
}

// Start resolves target_pane/session_name, spawns `tmux -C attach`, issues
// the initial geometry, starts the reader/wait threads, and emits the
// initial history snapshot (§4.5.3 steps 3-6).
func Start(target string, rows, cols int, emitOutput func(handle string, data []byte), emitExit func(handle, reason string)) (*Session, error) {
	if rows <= 0 {
		rows = 24
	}
	if cols <= 0 {
		cols = 80
	}

	targetPane, err := displayMessage(target, "#{pane_id}")
	if err != nil {
		return nil, err
	}
	sessionName, err := displayMessage(target, "#{session_name}")
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(Bin, "-C", "attach", "-t", sessionName)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("tmux control stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("tmux control stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tmux control mode: %w", err)
	}

	s := &Session{
		handle:     bridge.NewHandle(),
		target:     target,
		targetPane: targetPane,
		cmd:        cmd,
		stdin:      stdin,
		emitOutput: emitOutput,
		emitExit:   emitExit,
		rows:       rows,
		cols:       cols,
	}

	s.sendCmd(fmt.Sprintf("refresh-client -C %dx%d", cols, rows))

	go s.readLoop(stdout)
	go s.waitLoop()
	s.captureAndEmit()

	return s, nil
}

func (s *Session) Handle() string { return s.handle }

func (s *Session) Rows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *Session) Cols() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols
}

// WriteInput sends each byte as a literal send-keys -H command (§4.5.3
// "Input"): no key-symbol translation is attempted.
func (s *Session) WriteInput(data []byte) {
	for _, b := range data {
		s.sendCmd(fmt.Sprintf("send-keys -t %s -H %02x", s.target, b))
	}
}

// Resize records the new geometry and re-issues refresh-client.
func (s *Session) Resize(rows, cols int) {
	if rows <= 0 || cols <= 0 {
		return
	}
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()
	s.sendCmd(fmt.Sprintf("refresh-client -C %dx%d", cols, rows))
}

// Stop closes the control connection's stdin and interrupts the attach
// process if still running (§4.5.3 "Stop").
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.stdin.Close()
	s.writeMu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(sigInterrupt)
	}
}

func (s *Session) captureAndEmit() {
	data, err := capturePane(s.target)
	if err != nil || len(data) == 0 {
		return
	}
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	data = bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
	s.emitOutput(s.handle, data)
}

func (s *Session) sendCmd(command string) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = fmt.Fprintf(s.stdin, "%s\n", command)
}

func (s *Session) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		matches := outputLineRe.FindSubmatch(line)
		if matches == nil {
			continue
		}
		pane := string(matches[1])
		if s.targetPane != "" && pane != s.targetPane {
			continue
		}
		payload := DecodeOctal(matches[2])
		if len(payload) == 0 {
			continue
		}

		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			continue
		}
		s.emitOutput(s.handle, payload)
	}
}

func (s *Session) waitLoop() {
	err := s.cmd.Wait()

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	// Exit code 0 is treated as EOF whether or not we initiated the stop
	// (§9 open question: this masks an externally-killed tmux session, but
	// the behaviour is preserved intentionally).
	if err == nil {
		s.notifyExit("EOF")
		return
	}
	if stopped && isInterruptExit(err) {
		s.notifyExit("EOF")
		return
	}

	code := exitCode(err)
	s.notifyExit(fmt.Sprintf("tmux process exited: %d", code))
}

func (s *Session) notifyExit(reason string) {
	s.exitOnce.Do(func() {
		s.emitExit(s.handle, reason)
	})
}
