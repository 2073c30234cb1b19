package gateway

import (
	"errors"
	"net"
	"time"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind string `yaml:"bind"`

	// BrowseRoot confines the directory browser. Empty allows the whole
	// filesystem outside the kernel pseudo filesystems.
	BrowseRoot string `yaml:"browse_root"`

	// MaxBodyBytes caps JSON request bodies. Defaults to 1 MiB.
	MaxBodyBytes int `yaml:"max_body_bytes"`

	// LogPoll is how often the websocket log tail looks for new output.
	LogPoll time.Duration `yaml:"log_poll"`

	// MCP mounts the MCP endpoint at /mcp.
	MCP *bool `yaml:"mcp"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:11566"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.LogPoll <= 0 {
		c.LogPoll = 500 * time.Millisecond
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

func (c *Config) mcpEnabled() bool {
	return c.MCP == nil || *c.MCP
}

func (c *Config) validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
		return errors.New("gateway: invalid bind address: " + c.Bind)
	}
	return nil
}
