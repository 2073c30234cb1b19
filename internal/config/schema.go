// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for strmsync.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "gateway.http").
	Modules map[string]yaml.Node `yaml:"modules"`

	// Security holds process-wide security settings.
	Security *SecurityConfig `yaml:"security,omitempty"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// AuditLog is the audit log path. Defaults to {data_dir}/audit.log.
	// "-" disables the file.
	AuditLog string `yaml:"audit_log"`

	// ReloadPoll is how often the config file is checked for changes.
	// Zero disables polling; SIGHUP still reloads.
	ReloadPoll time.Duration `yaml:"reload_poll"`
}

// RateLimitConfig caps requests per minute. Zero takes the default and a
// negative value disables the limit.
type RateLimitConfig struct {
	LoginPerMin int `yaml:"login_per_min"`
	APIPerMin   int `yaml:"api_per_min"`
}

// SecurityOrDefault returns the security settings, or the zero value when
// the section is absent.
func (c *Config) SecurityOrDefault() SecurityConfig {
	if c.Security == nil {
		return SecurityConfig{}
	}
	return *c.Security
}
