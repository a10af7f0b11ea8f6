package tmuxsession

import (
	"strings"

	"github.com/term-relay/term-relay-sdk/internal/rpc"
)

// ParseStartCommand implements §4.5.3 step 1: strip a leading "share"
// token, accept --allow-nested/-allow-nested, and require exactly one
// positional target (e.g. "%0"). Anything else is -32602.
func ParseStartCommand(command []string) (target string, allowNested bool, err error) {
	if len(command) == 0 {
		return "", false, rpc.NewError(rpc.ErrParseOrInvalidParams, "tmux target is required (example: %0)")
	}

	args := command
	if args[0] == "share" {
		args = args[1:]
	}

	for _, arg := range args {
		switch {
		case arg == "--allow-nested" || arg == "-allow-nested":
			allowNested = true
		case strings.HasPrefix(arg, "-"):
			return "", false, rpc.NewError(rpc.ErrParseOrInvalidParams, "unknown option: "+arg)
		case target != "":
			return "", false, rpc.NewError(rpc.ErrParseOrInvalidParams, "too many positional arguments: "+arg)
		default:
			target = arg
		}
	}

	if target == "" {
		return "", false, rpc.NewError(rpc.ErrParseOrInvalidParams, "tmux target is required (example: %0)")
	}
	return target, allowNested, nil
}
