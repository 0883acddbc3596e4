// Package config provides configuration loading for flowd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables with the FLOWD_ prefix.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/bridge"
	"github.com/fyrsmithlabs/flowd/internal/logging"
)

// Config holds the complete flowd configuration.
type Config struct {
	Server  ServerConfig   `koanf:"server"`
	Logging logging.Config `koanf:"logging"`
	Flow    FlowConfig     `koanf:"flow"`
	Bridge  BridgeConfig   `koanf:"bridge"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// FlowConfig holds per-flow settings.
type FlowConfig struct {
	// MaxErrors is the recorded-error threshold that forces a flow to
	// failed.
	MaxErrors int `koanf:"max_errors"`
}

// BridgeConfig holds tool bridge settings and the declarative list of tool
// servers connected at boot.
type BridgeConfig struct {
	ClientName    string  `koanf:"client_name"`
	ClientVersion string  `koanf:"client_version"`
	InvokeRate    float64 `koanf:"invoke_rate"`
	InvokeBurst   int     `koanf:"invoke_burst"`

	Servers []ServerEntry `koanf:"servers"`
}

// ServerEntry declares one tool server to connect at startup.
type ServerEntry struct {
	ID        string                 `koanf:"id"`
	Transport bridge.TransportConfig `koanf:"transport"`
}

// Default returns sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9990,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: logging.DefaultConfig(),
		Flow: FlowConfig{
			MaxErrors: 3,
		},
		Bridge: BridgeConfig{
			ClientName:    "flowd",
			ClientVersion: "1.0.0",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.Server.ShutdownTimeout)
	}
	if c.Flow.MaxErrors < 1 {
		return fmt.Errorf("flow max errors must be at least 1, got %d", c.Flow.MaxErrors)
	}
	if c.Bridge.InvokeRate < 0 {
		return fmt.Errorf("bridge invoke rate must not be negative, got %f", c.Bridge.InvokeRate)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	for i, s := range c.Bridge.Servers {
		if s.ID == "" {
			return fmt.Errorf("bridge server %d: id is required", i)
		}
	}
	return nil
}
