// Package config loads the CATS server's TOML configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// HandshakeConfig configures the optional SHA256TimeHandshake pre-exchange
// step. A zero value (empty Secret) means the server runs without a
// handshake stage.
type HandshakeConfig struct {
	Secret          string `toml:"secret"`
	ValidWindow     int    `toml:"valid_window"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// ServerConfig is the top-level CATS server configuration.
type ServerConfig struct {
	ListenAddr             string          `toml:"listen_addr"`
	IdleTimeoutSeconds     int             `toml:"idle_timeout_seconds"`
	InputTimeoutSeconds    int             `toml:"input_timeout_seconds"`
	MaxPlainDataSizeBytes  int64           `toml:"max_plain_data_size_bytes"`
	DefaultDownloadSpeed   uint32          `toml:"default_download_speed"`
	InputLimit             int             `toml:"input_limit"`
	Handshake              HandshakeConfig `toml:"handshake"`
}

// DefaultServerConfig returns the §6 External Interfaces defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:            ":7700",
		IdleTimeoutSeconds:    120,
		InputTimeoutSeconds:   120,
		MaxPlainDataSizeBytes: 16 << 20,
		DefaultDownloadSpeed:  32 << 20,
		InputLimit:            10,
	}
}

// LoadServerConfig reads and validates a CATS server config from a TOML file.
// Unset fields fall back to DefaultServerConfig.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// Validate checks invariants the config loader cannot fix up with defaults.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.MaxPlainDataSizeBytes <= 0 {
		return fmt.Errorf("config: max_plain_data_size_bytes must be positive")
	}
	if c.DefaultDownloadSpeed != 0 && (c.DefaultDownloadSpeed < 1024 || c.DefaultDownloadSpeed > 33_554_432) {
		return fmt.Errorf("config: default_download_speed must be 0 or within [1024, 33554432]")
	}
	if c.Handshake.Secret != "" {
		if c.Handshake.ValidWindow < 0 {
			return fmt.Errorf("config: handshake.valid_window must be >= 0")
		}
		if c.Handshake.TimeoutSeconds <= 0 {
			return fmt.Errorf("config: handshake.timeout_seconds must be positive")
		}
	}
	return nil
}
