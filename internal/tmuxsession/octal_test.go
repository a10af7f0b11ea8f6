package tmuxsession

import "testing"

func TestDecodeOctal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no escapes", "hello", "hello"},
		{"carriage return escape", `hello\015`, "hello\r"},
		{"escape followed by text", `hello\015world`, "hello\rworld"},
		{"trailing backslash with no digits passes through", `abc\`, `abc\`},
		{"incomplete escape passes through", `abc\01`, `abc\01`},
		{"non-octal digit breaks the escape", `abc\019`, `abc\019`},
		{"S4 scenario: hello with CR", `hello\015`, "hello\r"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := string(DecodeOctal([]byte(tt.input)))
			if got != tt.want {
				t.Errorf("DecodeOctal(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
