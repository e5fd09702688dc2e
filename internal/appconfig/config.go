package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/panelsync/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	Grid          GridConfig    `mapstructure:"grid" yaml:"grid"`
	Window        WindowConfig  `mapstructure:"window" yaml:"window"`
	Channel       ChannelConfig `mapstructure:"channel" yaml:"channel"`
	Redis         RedisConfig   `mapstructure:"redis" yaml:"redis"`
	Relay         RelayConfig   `mapstructure:"relay" yaml:"relay"`
	Browser       BrowserConfig `mapstructure:"browser" yaml:"browser"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// Channel backends.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendWebsocket = "websocket"
)

// Window hosts.
const (
	HostStatic = "static"
	HostChrome = "chrome"
)

// GridConfig is the initial snapping grid.
type GridConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	Type    string  `mapstructure:"type" yaml:"type"`
	Size    float64 `mapstructure:"size" yaml:"size"`
	Mode    string  `mapstructure:"mode" yaml:"mode"`
}

// WindowConfig controls the local window session.
type WindowConfig struct {
	Host           string  `mapstructure:"host" yaml:"host"`
	PollIntervalMS int     `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
	ResizeHandle   float64 `mapstructure:"resize_handle" yaml:"resize_handle"`
	DefaultWidth   float64 `mapstructure:"default_width" yaml:"default_width"`
	DefaultHeight  float64 `mapstructure:"default_height" yaml:"default_height"`
	ViewportWidth  float64 `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight float64 `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// ChannelConfig selects the sync channel backend.
type ChannelConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend"`
	Name        string `mapstructure:"name" yaml:"name"`
	Codec       string `mapstructure:"codec" yaml:"codec"`
	OutboxDepth int    `mapstructure:"outbox_depth" yaml:"outbox_depth"`
}

// RedisConfig configures the Redis pub/sub backend.
type RedisConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	DB   int    `mapstructure:"db" yaml:"db"`
}

// RelayConfig configures the websocket relay and its clients.
type RelayConfig struct {
	Addr           string   `mapstructure:"addr" yaml:"addr"`
	BasePath       string   `mapstructure:"base_path" yaml:"base_path"`
	URL            string   `mapstructure:"url" yaml:"url"`
	History        int      `mapstructure:"history" yaml:"history"`
	DialRetries    int      `mapstructure:"dial_retries" yaml:"dial_retries"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// BrowserConfig configures the Chrome window host.
type BrowserConfig struct {
	// RemoteURL attaches to a running browser's DevTools endpoint; empty
	// launches a new browser.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`
	ExecPath  string `mapstructure:"exec_path" yaml:"exec_path"`
	Headless  bool   `mapstructure:"headless" yaml:"headless"`
	NoSandbox bool   `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	StartURL  string `mapstructure:"start_url" yaml:"start_url"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Grid: GridConfig{
			Enabled: true,
			Type:    string(schema.GridPixel),
			Size:    schema.DefaultGridSize,
			Mode:    string(schema.SnapShared),
		},
		Window: WindowConfig{
			Host:           HostStatic,
			PollIntervalMS: 8,
			ResizeHandle:   15,
			DefaultWidth:   240,
			DefaultHeight:  180,
			ViewportWidth:  1280,
			ViewportHeight: 720,
		},
		Channel: ChannelConfig{
			Backend:     BackendWebsocket,
			Name:        string(schema.DefaultChannelName),
			Codec:       "json",
			OutboxDepth: 256,
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
			DB:   0,
		},
		Relay: RelayConfig{
			Addr:           "127.0.0.1:8420",
			BasePath:       "",
			URL:            "ws://127.0.0.1:8420/ws",
			History:        1000,
			DialRetries:    5,
			AllowedOrigins: []string{},
		},
		Browser: BrowserConfig{
			RemoteURL: "",
			ExecPath:  "",
			Headless:  false,
			NoSandbox: false,
			StartURL:  "about:blank",
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".panelsync", "config.yaml"), nil
}

// Schema converts the grid section into a normalized replicated config.
func (c GridConfig) Schema() (schema.GridConfig, error) {
	var gridType schema.GridType
	if strings.TrimSpace(c.Type) != "" {
		parsed, err := schema.NormalizeGridType(c.Type)
		if err != nil {
			return schema.GridConfig{}, fmt.Errorf("grid.type %q: %w", c.Type, err)
		}
		gridType = parsed
	}
	var mode schema.SnapMode
	if strings.TrimSpace(c.Mode) != "" {
		parsed, err := schema.NormalizeSnapMode(c.Mode)
		if err != nil {
			return schema.GridConfig{}, fmt.Errorf("grid.mode %q: %w", c.Mode, err)
		}
		mode = parsed
	}
	cfg, err := schema.NormalizeGridConfig(schema.GridConfig{
		Enabled: c.Enabled,
		Type:    gridType,
		Size:    c.Size,
		Mode:    mode,
	})
	if err != nil {
		return schema.GridConfig{}, fmt.Errorf("grid: %w", err)
	}
	return cfg, nil
}

// PollInterval returns the offset sampling period.
func (c WindowConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ChannelName returns the validated channel name.
func (c ChannelConfig) ChannelName() (schema.ChannelName, error) {
	name, err := schema.NormalizeChannelName(c.Name)
	if err != nil {
		return "", fmt.Errorf("channel.name %q: %w", c.Name, err)
	}
	return name, nil
}

// NormalizedBackend lowercases the backend name.
func (c ChannelConfig) NormalizedBackend() string {
	return strings.ToLower(strings.TrimSpace(c.Backend))
}
