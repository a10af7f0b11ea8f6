package itermbridge

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// ListTargets queries the bridge's list_targets frame and returns whatever
// target descriptors it reports, grounded on
// original_source/extensions/python_sdk/iterm2.py's list_iterm2_targets.
// It is the implementation behind the supplemented -list-targets CLI flag.
func ListTargets(socketPath string, connectTimeout time.Duration) ([]map[string]any, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("bridge_socket is required")
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}

	conn, err := net.DialTimeout("unix", socketPath, connectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial iterm2 bridge socket: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"type":"list_targets"}` + "\n")); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(connectTimeout)
	_ = conn.SetReadDeadline(deadline)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var frame map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		msgType, _ := frame["type"].(string)
		switch msgType {
		case "targets":
			raw, ok := frame["targets"].([]any)
			if !ok {
				return nil, nil
			}
			targets := make([]map[string]any, 0, len(raw))
			for _, item := range raw {
				if m, ok := item.(map[string]any); ok {
					targets = append(targets, m)
				}
			}
			return targets, nil
		case "error":
			return nil, fmt.Errorf("%s", asString(frame["message"], "iterm2 bridge error"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("iterm2 bridge list_targets: %w", err)
	}
	return nil, fmt.Errorf("iterm2 bridge disconnected during list_targets")
}
