// Package config loads the optional per-extension YAML configuration file
// (§10 "Configuration"). Every field has a built-in default, so an absent
// or partial file is always valid; LoadConfig fills in whatever the file
// omits the same way the daemon's config loader does.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level document shared by all three extension binaries;
// each reads only the section for its own backend (the spawn extension
// reads only PTY).
type Config struct {
	Tmux   TmuxConfig   `yaml:"tmux"`
	Bridge BridgeConfig `yaml:"bridge"`
	PTY    PTYConfig    `yaml:"pty"`
}

// TmuxConfig configures the tmux control-mode backend (C5.3).
type TmuxConfig struct {
	Bin                string `yaml:"bin"`
	RelayOriginOption  string `yaml:"relay_origin_option"`
	DefaultAllowNested bool   `yaml:"default_allow_nested"`
}

// BridgeConfig configures the iTerm2 socket backend (C5.2).
type BridgeConfig struct {
	SocketPath        string `yaml:"socket_path"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
}

// PTYConfig configures the spawn extension's PTY adapter (C5a).
type PTYConfig struct {
	DefaultShell  string `yaml:"default_shell"`
	ReadChunkSize int    `yaml:"read_chunk_size"`
}

// LoadConfig reads and unmarshals path, filling in defaults for whatever
// the file omits. A missing or unreadable file is returned as an error;
// callers that want an optional config file should stat path first and
// call LoadDefault() if it does not exist.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault returns a Config populated with built-in defaults only, for
// callers that were not given a -config flag.
func LoadDefault() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Tmux.Bin == "" {
		cfg.Tmux.Bin = "tmux"
	}
	if cfg.Tmux.RelayOriginOption == "" {
		cfg.Tmux.RelayOriginOption = "@term_relay_origin"
	}

	if cfg.Bridge.SocketPath == "" {
		cfg.Bridge.SocketPath = envOr("TERM_RELAY_ITERM2_BRIDGE_SOCKET", "")
	}
	if cfg.Bridge.ConnectTimeoutSec == 0 {
		cfg.Bridge.ConnectTimeoutSec = 2
	}

	if cfg.PTY.DefaultShell == "" {
		cfg.PTY.DefaultShell = envOr("SHELL", "/bin/bash")
	}
	if cfg.PTY.ReadChunkSize == 0 {
		cfg.PTY.ReadChunkSize = 4096
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
