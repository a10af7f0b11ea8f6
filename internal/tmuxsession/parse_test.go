package tmuxsession

import (
	"testing"

	"github.com/term-relay/term-relay-sdk/internal/rpc"
)

func TestParseStartCommand(t *testing.T) {
	tests := []struct {
		name       string
		command    []string
		wantTarget string
		wantNested bool
		wantErr    bool
	}{
		{"bare target", []string{"%0"}, "%0", false, false},
		{"share prefix stripped", []string{"share", "%0"}, "%0", false, false},
		{"allow-nested long flag", []string{"share", "%9", "--allow-nested"}, "%9", true, false},
		{"allow-nested short flag", []string{"%9", "-allow-nested"}, "%9", true, false},
		{"empty command is invalid", []string{}, "", false, true},
		{"share alone is invalid", []string{"share"}, "", false, true},
		{"unknown flag is invalid", []string{"%0", "--bogus"}, "", false, true},
		{"two positional targets is invalid", []string{"%0", "%1"}, "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, allowNested, err := ParseStartCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseStartCommand(%v) = nil error, want error", tt.command)
				}
				if rpcErr, ok := err.(*rpc.Error); !ok || rpcErr.Code != rpc.ErrParseOrInvalidParams {
					t.Fatalf("ParseStartCommand(%v) error = %v, want *rpc.Error with code %d", tt.command, err, rpc.ErrParseOrInvalidParams)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStartCommand(%v) unexpected error: %v", tt.command, err)
			}
			if target != tt.wantTarget || allowNested != tt.wantNested {
				t.Errorf("ParseStartCommand(%v) = (%q, %v), want (%q, %v)", tt.command, target, allowNested, tt.wantTarget, tt.wantNested)
			}
		})
	}
}
