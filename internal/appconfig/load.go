package appconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/panelsync/internal/codec"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := newViper(path, cfg)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(path string, cfg Config) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("grid.enabled", cfg.Grid.Enabled)
	v.SetDefault("grid.type", cfg.Grid.Type)
	v.SetDefault("grid.size", cfg.Grid.Size)
	v.SetDefault("grid.mode", cfg.Grid.Mode)
	v.SetDefault("window.host", cfg.Window.Host)
	v.SetDefault("window.poll_interval_ms", cfg.Window.PollIntervalMS)
	v.SetDefault("window.resize_handle", cfg.Window.ResizeHandle)
	v.SetDefault("window.default_width", cfg.Window.DefaultWidth)
	v.SetDefault("window.default_height", cfg.Window.DefaultHeight)
	v.SetDefault("window.viewport_width", cfg.Window.ViewportWidth)
	v.SetDefault("window.viewport_height", cfg.Window.ViewportHeight)
	v.SetDefault("channel.backend", cfg.Channel.Backend)
	v.SetDefault("channel.name", cfg.Channel.Name)
	v.SetDefault("channel.codec", cfg.Channel.Codec)
	v.SetDefault("channel.outbox_depth", cfg.Channel.OutboxDepth)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("relay.addr", cfg.Relay.Addr)
	v.SetDefault("relay.base_path", cfg.Relay.BasePath)
	v.SetDefault("relay.url", cfg.Relay.URL)
	v.SetDefault("relay.history", cfg.Relay.History)
	v.SetDefault("relay.dial_retries", cfg.Relay.DialRetries)
	v.SetDefault("relay.allowed_origins", cfg.Relay.AllowedOrigins)
	v.SetDefault("browser.remote_url", cfg.Browser.RemoteURL)
	v.SetDefault("browser.exec_path", cfg.Browser.ExecPath)
	v.SetDefault("browser.headless", cfg.Browser.Headless)
	v.SetDefault("browser.no_sandbox", cfg.Browser.NoSandbox)
	v.SetDefault("browser.start_url", cfg.Browser.StartURL)
	return v
}

// Validate checks cross-field constraints of a loaded config.
func Validate(cfg Config) error {
	if _, err := cfg.Grid.Schema(); err != nil {
		return err
	}
	if _, err := cfg.Channel.ChannelName(); err != nil {
		return err
	}
	if _, err := codec.ByName(cfg.Channel.Codec); err != nil {
		return fmt.Errorf("channel.codec: %w", err)
	}
	if cfg.Channel.OutboxDepth < 0 {
		return fmt.Errorf("channel.outbox_depth must not be negative")
	}
	switch cfg.Channel.NormalizedBackend() {
	case BackendMemory:
	case BackendRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required for channel.backend %q", BackendRedis)
		}
	case BackendWebsocket:
		if err := validateRelayURL(cfg.Relay.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported channel.backend %q", cfg.Channel.Backend)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Window.Host)) {
	case HostStatic, HostChrome:
	default:
		return fmt.Errorf("unsupported window.host %q", cfg.Window.Host)
	}
	if cfg.Window.ResizeHandle < 0 {
		return fmt.Errorf("window.resize_handle must not be negative")
	}
	if cfg.Window.DefaultWidth <= 0 || cfg.Window.DefaultHeight <= 0 {
		return fmt.Errorf("window.default_width and window.default_height must be positive")
	}
	basePath := strings.TrimSpace(cfg.Relay.BasePath)
	if basePath != "" {
		if strings.Contains(basePath, "://") {
			return fmt.Errorf("relay.base_path must be a path prefix, not a URL")
		}
		if strings.ContainsAny(basePath, "?#") {
			return fmt.Errorf("relay.base_path must not include query or fragment")
		}
	}
	return nil
}

func validateRelayURL(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("relay.url must include scheme and host (e.g. ws://127.0.0.1:8420/ws)")
	}
	switch parsed.Scheme {
	case "ws", "wss", "http", "https":
		return nil
	default:
		return fmt.Errorf("relay.url scheme %q is not supported", parsed.Scheme)
	}
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Redis.Addr = expandEnv(cfg.Redis.Addr)
	cfg.Relay.Addr = expandEnv(cfg.Relay.Addr)
	cfg.Relay.URL = expandEnv(cfg.Relay.URL)
	cfg.Browser.RemoteURL = expandEnv(cfg.Browser.RemoteURL)
	cfg.Browser.ExecPath = expandEnv(cfg.Browser.ExecPath)
	cfg.Browser.StartURL = expandEnv(cfg.Browser.StartURL)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
