// Command spawn is the Simple I/O PTY extension (C2 + C5a): it speaks the
// non-RPC start/input/resize/stop protocol on stdio and bridges it to a
// freshly spawned pseudoterminal child.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/term-relay/term-relay-sdk/internal/config"
	"github.com/term-relay/term-relay-sdk/internal/ioline"
	"github.com/term-relay/term-relay-sdk/internal/ptyadapter"
	"github.com/term-relay/term-relay-sdk/internal/simpleio"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println("spawn " + version)
		return
	}

	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	log.SetOutput(os.Stderr)
	log.SetPrefix("spawn: ")

	cfg := loadConfig(*configPath)

	ch := ioline.NewChannel(os.Stdin, os.Stdout)
	adapter := ptyadapter.New(cfg.PTY.ReadChunkSize)
	server := simpleio.NewServer(ch, adapter)

	os.Exit(server.Run())
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
