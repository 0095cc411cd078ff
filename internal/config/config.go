// Package config loads client and relay configuration. Values come from a
// JSON config file in the tailsync home directory with TAILSYNC_*
// environment variables layered on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const configFileName = "config.json"

// defaultDebounceSeconds spaces out locally-originated sends.
const defaultDebounceSeconds = 0.5

// Client holds desktop client configuration. The JSON field names match the
// config files written by earlier releases, so existing installs keep
// working.
type Client struct {
	// ServerAddress is the relay host (Tailscale IP or domain). A scheme
	// prefix and trailing slash are tolerated and stripped.
	ServerAddress string `json:"server_ip"`
	// Port is the relay port.
	Port string `json:"port"`
	// UseSecure selects wss:// instead of ws://.
	UseSecure bool `json:"use_secure"`
	// EncryptionPassword is the shared secret all devices derive the
	// payload key from. Required.
	EncryptionPassword string `json:"encryption_password"`
	// DebounceSeconds is the minimum spacing between outbound sends.
	DebounceSeconds float64 `json:"debounce_delay,omitempty"`
	// DeviceID identifies this client in message sources. Generated and
	// persisted on first run when absent.
	DeviceID string `json:"device_id,omitempty"`

	// Home is the directory the config was loaded from. Not serialized.
	Home string `json:"-"`
}

// ClientOverrides optionally overrides loaded values. A nil pointer means
// "use the file/environment value".
type ClientOverrides struct {
	Home               *string
	ServerAddress      *string
	Port               *string
	UseSecure          *bool
	EncryptionPassword *string
}

// LoadClient reads the config file from the tailsync home directory and
// applies environment variables and overrides. A missing file is an error
// with guidance: first-run setup writes the file via Save.
func LoadClient(overrides ClientOverrides) (*Client, error) {
	home, err := homeDir(overrides.Home)
	if err != nil {
		return nil, err
	}

	cfg := &Client{Home: home}
	path := cfg.Path()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.Home = home
	case os.IsNotExist(err):
		// Environment or overrides may still provide everything.
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if v := os.Getenv("TAILSYNC_SERVER_ADDRESS"); v != "" {
		cfg.ServerAddress = v
	}
	if v := os.Getenv("TAILSYNC_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("TAILSYNC_USE_SECURE"); v != "" {
		cfg.UseSecure = v == "true" || v == "1"
	}
	if v := os.Getenv("TAILSYNC_PASSWORD"); v != "" {
		cfg.EncryptionPassword = v
	}

	if overrides.ServerAddress != nil {
		cfg.ServerAddress = *overrides.ServerAddress
	}
	if overrides.Port != nil {
		cfg.Port = *overrides.Port
	}
	if overrides.UseSecure != nil {
		cfg.UseSecure = *overrides.UseSecure
	}
	if overrides.EncryptionPassword != nil {
		cfg.EncryptionPassword = *overrides.EncryptionPassword
	}

	cfg.normalize()

	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("no server address configured: set TAILSYNC_SERVER_ADDRESS or run with --init")
	}
	if cfg.EncryptionPassword == "" {
		return nil, fmt.Errorf("no encryption password configured: set TAILSYNC_PASSWORD or run with --init")
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = "desktop-" + uuid.NewString()
		// Persist the generated id so the device keeps its identity
		// across restarts. Best effort: a read-only home is not fatal.
		_ = cfg.Save()
	}

	return cfg, nil
}

func (c *Client) normalize() {
	addr := strings.TrimSpace(c.ServerAddress)
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	c.ServerAddress = strings.TrimSuffix(addr, "/")

	if c.Port == "" {
		c.Port = "8000"
	}
	if c.DebounceSeconds <= 0 {
		c.DebounceSeconds = defaultDebounceSeconds
	}
}

// WebsocketURL builds the relay sync endpoint URL.
func (c *Client) WebsocketURL() string {
	scheme := "ws"
	if c.UseSecure {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%s/ws", scheme, c.ServerAddress, c.Port)
}

// Debounce returns the configured debounce as a duration.
func (c *Client) Debounce() time.Duration {
	return time.Duration(c.DebounceSeconds * float64(time.Second))
}

// LockPath is where the single-instance lock lives.
func (c *Client) LockPath() string {
	return filepath.Join(c.Home, "tailsync.lock")
}

// Path is the config file location.
func (c *Client) Path() string {
	return filepath.Join(c.Home, configFileName)
}

// Save writes the config file with owner-only permissions (it contains the
// shared password).
func (c *Client) Save() error {
	if err := os.MkdirAll(c.Home, 0o700); err != nil {
		return fmt.Errorf("failed to create tailsync home: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path(), data, 0o600)
}

// Relay holds relay daemon configuration.
type Relay struct {
	// Addr is the listen address.
	Addr string
	// Debug enables verbose logging.
	Debug bool
}

// LoadRelay reads relay configuration from the environment.
func LoadRelay() *Relay {
	port := 8000
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	return &Relay{
		Addr:  fmt.Sprintf(":%d", port),
		Debug: debug,
	}
}

func homeDir(override *string) (string, error) {
	if override != nil {
		return *override, nil
	}
	if v := os.Getenv("TAILSYNC_HOME_DIR"); v != "" {
		return v, nil
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(userHome, ".tailsync"), nil
}
