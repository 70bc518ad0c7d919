// Package config handles mcpbridge configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/mcpbridge/internal/mcp"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/mcpbridge/config.yaml, /etc/mcpbridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "mcpbridge", "config.yaml"))
	}

	paths = append(paths, "/etc/mcpbridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all mcpbridge configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Tools  ToolsConfig  `yaml:"tools"`

	// Timeout is the per-call budget for every bridged tool.
	Timeout time.Duration `yaml:"timeout"`

	// CachePath is the SQLite catalog cache. Empty disables caching.
	CachePath string `yaml:"cache_path"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// ServerConfig defines the MCP endpoint and its credentials.
type ServerConfig struct {
	EndpointURL string `yaml:"endpoint_url"`
	Transport   string `yaml:"transport"` // sse or httpStreamable
	ClientID    string `yaml:"client_id"`
	APIKey      string `yaml:"api_key"`

	// InsecureSkipVerify disables TLS certificate checks. Only for
	// local development servers with self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ToolsConfig defines which remote tools are exposed and how.
type ToolsConfig struct {
	Mode    string   `yaml:"mode"` // all, selected, except
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
	Prefix  string   `yaml:"prefix"`

	// Require treats an empty selection as an error.
	Require bool `yaml:"require"`
}

// Load reads configuration from a YAML file and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{Transport: string(mcp.TransportHTTPStreamable)},
		Tools:     ToolsConfig{Mode: string(mcp.ModeAll), Require: true},
		Timeout:   mcp.DefaultCallTimeout,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Server.EndpointURL) == "" {
		errs = append(errs, errors.New("server.endpoint_url is required"))
	} else if _, err := mcp.ValidateEndpoint(c.Server.EndpointURL); err != nil {
		errs = append(errs, fmt.Errorf("server.endpoint_url: %w", err))
	}
	if _, err := mcp.ParseTransport(c.Server.Transport); err != nil {
		errs = append(errs, fmt.Errorf("server.transport: %w", err))
	}
	if _, err := mcp.ParseMode(c.Tools.Mode); err != nil {
		errs = append(errs, fmt.Errorf("tools.mode: %w", err))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Timeout))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: unknown format %q (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

// MCPServer builds the connection settings for mcp.Connect, including
// the auth headers derived from client_id and api_key.
func (c *Config) MCPServer() (mcp.ServerConfig, error) {
	transport, err := mcp.ParseTransport(c.Server.Transport)
	if err != nil {
		return mcp.ServerConfig{}, err
	}
	return mcp.ServerConfig{
		EndpointURL: strings.TrimSpace(c.Server.EndpointURL),
		Transport:   transport,
		Headers:     mcp.AuthHeaders(c.Server.ClientID, c.Server.APIKey),
	}, nil
}

// SelectionPolicy returns the configured tool selection.
func (c *Config) SelectionPolicy() (mcp.SelectionPolicy, error) {
	mode, err := mcp.ParseMode(c.Tools.Mode)
	if err != nil {
		return mcp.SelectionPolicy{}, err
	}
	return mcp.SelectionPolicy{
		Mode:    mode,
		Include: c.Tools.Include,
		Exclude: c.Tools.Exclude,
	}, nil
}
