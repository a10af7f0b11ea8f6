// Command iterm2 is the JSON-RPC iTerm2 bridge extension (C3 + C5.2): it
// speaks the same façade as the tmux extension but forwards every terminal
// operation over a UNIX-domain socket to an external iTerm2 bridge process.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/term-relay/term-relay-sdk/internal/config"
	"github.com/term-relay/term-relay-sdk/internal/ioline"
	"github.com/term-relay/term-relay-sdk/internal/itermbridge"
	"github.com/term-relay/term-relay-sdk/internal/rpc"
	"github.com/term-relay/term-relay-sdk/internal/session"
)

const version = "0.1.0"

var hello = session.Hello{
	ID:              "com.termrelay.go.iterm2",
	Name:            "Term Relay Go iTerm2 Extension",
	Version:         version,
	ProtocolVersion: "v1",
	Capabilities: session.Capabilities{
		CanSpawn:                 true,
		CanAttach:                true,
		CanTakeover:              false,
		CanListTargets:           true,
		HasHistorySnapshot:       false,
		HasNativeLayoutEvents:    false,
		SupportsSharedInput:      true,
		SupportsControllerResize: true,
		SupportsRestoreOnStop:    false,
	},
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println("iterm2 " + version)
		return
	}

	listTargets := flag.Bool("list-targets", false, "query the bridge for attachable targets and exit")
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.SetPrefix("iterm2: ")

	cfg := loadConfig(*configPath)

	if *listTargets {
		runListTargets(cfg)
		return
	}

	ch := ioline.NewChannel(os.Stdin, os.Stdout)
	srv := rpc.NewServer(ch)
	startFunc := itermbridge.NewStartFunc(cfg.Bridge.SocketPath, func() int { return cfg.Bridge.ConnectTimeoutSec })
	session.NewFacade(srv, hello, startFunc)

	os.Exit(srv.Run())
}

func runListTargets(cfg *config.Config) {
	timeout := itermbridge.DefaultConnectTimeout
	if cfg.Bridge.ConnectTimeoutSec > 0 {
		timeout = secondsToDuration(cfg.Bridge.ConnectTimeoutSec)
	}

	targets, err := itermbridge.ListTargets(cfg.Bridge.SocketPath, timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	data, err := json.Marshal(targets)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func secondsToDuration(secs int) time.Duration {
	return time.Duration(secs) * time.Second
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.LoadDefault()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.Fatalf("load config %s: %v", path, err)
	}
	return cfg
}
