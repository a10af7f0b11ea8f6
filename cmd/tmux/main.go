// Command tmux is the JSON-RPC tmux control-mode extension (C3 + C5.3): it
// speaks ext.hello/ext.start/ext.input/ext.resize/ext.stop on stdio and
// drives a tmux control-mode attachment for each session.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/term-relay/term-relay-sdk/internal/config"
	"github.com/term-relay/term-relay-sdk/internal/ioline"
	"github.com/term-relay/term-relay-sdk/internal/rpc"
	"github.com/term-relay/term-relay-sdk/internal/session"
	"github.com/term-relay/term-relay-sdk/internal/tmuxsession"
)

const version = "0.1.0"

var hello = session.Hello{
	ID:              "com.termrelay.go.tmux",
	Name:            "Term Relay Go Tmux Extension",
	Version:         version,
	ProtocolVersion: "v1",
	Capabilities: session.Capabilities{
		CanSpawn:                 true,
		CanAttach:                true,
		CanTakeover:              false,
		CanListTargets:           false,
		HasHistorySnapshot:       true,
		HasNativeLayoutEvents:    true,
		SupportsSharedInput:      true,
		SupportsControllerResize: true,
		SupportsRestoreOnStop:    true,
	},
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println("tmux " + version)
		return
	}

	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.SetPrefix("tmux: ")

	cfg := loadConfig(*configPath)
	tmuxsession.Bin = cfg.Tmux.Bin
	tmuxsession.DefaultRelayOriginOption = cfg.Tmux.RelayOriginOption

	ch := ioline.NewChannel(os.Stdin, os.Stdout)
	srv := rpc.NewServer(ch)
	session.NewFacade(srv, hello, tmuxsession.StartTmuxControlSession)

	os.Exit(srv.Run())
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
