// Package config holds the endpoint options and the relay daemon
// configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kenneth/p2p-copy/internal/compress"
)

// DefaultChunkSize is the read granularity for file bodies (1 MiB).
const DefaultChunkSize = 1 << 20

// Options configures one endpoint invocation (send or receive).
type Options struct {
	// Server is the relay URL, e.g. wss://relay.example or ws://localhost:8765.
	Server string
	// Code is the human-shared secret.
	Code string
	// Files lists the sender's input paths (files or directories).
	Files []string
	// Out is the receiver's destination directory; empty means the working
	// directory.
	Out string
	// Encrypt enables the end-to-end AEAD overlay. Both endpoints must agree
	// out-of-band.
	Encrypt bool
	// Compress selects the sender's compression policy.
	Compress compress.Mode
	// Resume asks the receiver to disclose already-present bytes so the
	// sender can skip or append.
	Resume bool
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
}

// EffectiveChunkSize returns the configured chunk size or the default.
func (o Options) EffectiveChunkSize() int {
	if o.ChunkSize > 0 {
		return o.ChunkSize
	}
	return DefaultChunkSize
}

// RelayTLS configures TLS termination at the relay.
type RelayTLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// RelayConfig configures the relay daemon.
type RelayConfig struct {
	Listen   string   `yaml:"listen"`
	TLS      RelayTLS `yaml:"tls"`
	LogLevel string   `yaml:"log_level"`
}

// DefaultRelayConfig matches the original relay's localhost defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Listen:   "localhost:8765",
		LogLevel: "info",
	}
}

// LoadRelayConfig reads a yaml relay config, applying defaults for absent
// fields.
func LoadRelayConfig(path string) (RelayConfig, error) {
	cfg := DefaultRelayConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read relay config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse relay config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the relay cannot serve.
func (c RelayConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("relay config: listen address missing")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("TLS requested but certfile/keyfile missing")
	}
	return nil
}
