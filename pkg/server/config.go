package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/kitchej/pychat/pkg/protocol"
)

// Blacklist storage backends
const (
	BlacklistBackendFile   = "file"
	BlacklistBackendSQLite = "sqlite"
)

// Config holds server configuration. It is built once at startup and never mutated.
type Config struct {
	Host               string
	Port               int
	BufferSize         int           // Socket read size in bytes
	MaxClients         int           // 0 = unlimited
	MaxUsernameLength  int           // At most protocol.MaxUsernameLen
	MaxDataLength      uint32        // Largest accepted data section
	HandshakeTimeout   time.Duration // 0 = wait forever for the username
	SendTimeout        time.Duration // Per-recipient write deadline, 0 = none
	BroadcastQueueSize int
	EchoToSender       bool // Deliver a sender's own TEXT/MULTIMEDIA back to it

	BlacklistPath    string
	BlacklistBackend string

	HTTPAddr string // /metrics, /health and /ws; empty = disabled

	LogDir string // errors.log, server.log and debug.log; empty = console only
	Debug  bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Host:               "127.0.0.1",
		Port:               5000,
		BufferSize:         4096,
		MaxClients:         16,
		MaxUsernameLength:  16,
		MaxDataLength:      protocol.DefaultMaxDataLen,
		HandshakeTimeout:   30 * time.Second,
		SendTimeout:        5 * time.Second,
		BroadcastQueueSize: 256,
		EchoToSender:       false,
		BlacklistPath:      ".ipblacklist",
		BlacklistBackend:   BlacklistBackendFile,
	}
}

// Addr returns the TCP listen address
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks that the configuration is usable
func (c Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 0 and 65535, got %d", c.Port))
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("buffer size must be a positive integer, got %d", c.BufferSize))
	}
	if c.MaxClients < 0 {
		errs = append(errs, fmt.Errorf("max clients must not be negative, got %d", c.MaxClients))
	}
	if c.MaxUsernameLength <= 0 || c.MaxUsernameLength > protocol.MaxUsernameLen {
		errs = append(errs, fmt.Errorf("max username length must be between 1 and %d, got %d", protocol.MaxUsernameLen, c.MaxUsernameLength))
	}
	if c.MaxDataLength == 0 {
		errs = append(errs, errors.New("max data length must be positive"))
	}
	if c.BroadcastQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("broadcast queue size must be positive, got %d", c.BroadcastQueueSize))
	}
	switch c.BlacklistBackend {
	case BlacklistBackendFile, BlacklistBackendSQLite, "":
	default:
		errs = append(errs, fmt.Errorf("unknown blacklist backend %q", c.BlacklistBackend))
	}
	return errors.Join(errs...)
}

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server    ServerSection    `toml:"server"`
	Limits    LimitsSection    `toml:"limits"`
	Broadcast BroadcastSection `toml:"broadcast"`
	Blacklist BlacklistSection `toml:"blacklist"`
	HTTP      HTTPSection      `toml:"http"`
	Logging   LoggingSection   `toml:"logging"`
}

type ServerSection struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	BufferSize int    `toml:"buffer_size"`
}

type LimitsSection struct {
	MaxClients              *int `toml:"max_clients"`
	MaxUsernameLength       int  `toml:"max_username_length"`
	MaxDataLength           int  `toml:"max_data_length"`
	HandshakeTimeoutSeconds *int `toml:"handshake_timeout_seconds"`
}

type BroadcastSection struct {
	QueueSize          int   `toml:"queue_size"`
	SendTimeoutSeconds *int  `toml:"send_timeout_seconds"`
	EchoToSender       *bool `toml:"echo_to_sender"`
}

type BlacklistSection struct {
	Path    string `toml:"path"`
	Backend string `toml:"backend"`
}

type HTTPSection struct {
	Addr string `toml:"addr"`
}

type LoggingSection struct {
	Dir   string `toml:"dir"`
	Debug bool   `toml:"debug"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	d := DefaultConfig()
	maxClients := d.MaxClients
	handshake := int(d.HandshakeTimeout / time.Second)
	sendTimeout := int(d.SendTimeout / time.Second)
	echo := d.EchoToSender
	return TOMLConfig{
		Server: ServerSection{
			Host:       d.Host,
			Port:       d.Port,
			BufferSize: d.BufferSize,
		},
		Limits: LimitsSection{
			MaxClients:              &maxClients,
			MaxUsernameLength:       d.MaxUsernameLength,
			MaxDataLength:           int(d.MaxDataLength),
			HandshakeTimeoutSeconds: &handshake,
		},
		Broadcast: BroadcastSection{
			QueueSize:          d.BroadcastQueueSize,
			SendTimeoutSeconds: &sendTimeout,
			EchoToSender:       &echo,
		},
		Blacklist: BlacklistSection{
			Path:    "~/.pychat/ipblacklist",
			Backend: BlacklistBackendFile,
		},
	}
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, path[2:]), nil
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	path, err := expandHome(path)
	if err != nil {
		return TOMLConfig{}, err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		// If we can't write, just run with defaults
		_ = writeDefaultConfig(path)
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: PYCHAT_SECTION_KEY
// Example: PYCHAT_SERVER_PORT=6000
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	envInt := func(name string, set func(int)) {
		if val := os.Getenv(name); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				set(n)
			}
		}
	}
	envBool := func(name string, set func(bool)) {
		if val := os.Getenv(name); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				set(b)
			}
		}
	}
	envString := func(name string, set func(string)) {
		if val := os.Getenv(name); val != "" {
			set(val)
		}
	}

	// Server section
	envString("PYCHAT_SERVER_HOST", func(v string) { config.Server.Host = v })
	envInt("PYCHAT_SERVER_PORT", func(v int) { config.Server.Port = v })
	envInt("PYCHAT_SERVER_BUFFER_SIZE", func(v int) { config.Server.BufferSize = v })

	// Limits section
	envInt("PYCHAT_LIMITS_MAX_CLIENTS", func(v int) { config.Limits.MaxClients = &v })
	envInt("PYCHAT_LIMITS_MAX_USERNAME_LENGTH", func(v int) { config.Limits.MaxUsernameLength = v })
	envInt("PYCHAT_LIMITS_MAX_DATA_LENGTH", func(v int) { config.Limits.MaxDataLength = v })
	envInt("PYCHAT_LIMITS_HANDSHAKE_TIMEOUT_SECONDS", func(v int) { config.Limits.HandshakeTimeoutSeconds = &v })

	// Broadcast section
	envInt("PYCHAT_BROADCAST_QUEUE_SIZE", func(v int) { config.Broadcast.QueueSize = v })
	envInt("PYCHAT_BROADCAST_SEND_TIMEOUT_SECONDS", func(v int) { config.Broadcast.SendTimeoutSeconds = &v })
	envBool("PYCHAT_BROADCAST_ECHO_TO_SENDER", func(v bool) { config.Broadcast.EchoToSender = &v })

	// Blacklist section
	envString("PYCHAT_BLACKLIST_PATH", func(v string) { config.Blacklist.Path = v })
	envString("PYCHAT_BLACKLIST_BACKEND", func(v string) { config.Blacklist.Backend = v })

	// HTTP section
	envString("PYCHAT_HTTP_ADDR", func(v string) { config.HTTP.Addr = v })

	// Logging section
	envString("PYCHAT_LOGGING_DIR", func(v string) { config.Logging.Dir = v })
	envBool("PYCHAT_LOGGING_DEBUG", func(v bool) { config.Logging.Debug = v })

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# Pychat Server Configuration
# This file was auto-generated with default values
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# PYCHAT_SECTION_KEY (e.g., PYCHAT_SERVER_PORT=6000)

[server]
# Address (IPv4) to listen on
host = "127.0.0.1"

# TCP port for chat clients
port = 5000

# Size of each socket read in bytes
buffer_size = 4096

[limits]
# Maximum concurrent clients (0 = unlimited)
max_clients = 16

# Maximum username length in bytes (at most 256)
max_username_length = 16

# Largest accepted data section in bytes (text or multimedia)
max_data_length = 16777216

# Seconds a new connection may take to send its username (0 = no limit)
handshake_timeout_seconds = 30

[broadcast]
# Pending broadcasts before senders block
queue_size = 256

# Seconds a single recipient write may take before that client is dropped (0 = no limit)
send_timeout_seconds = 5

# Send a client's own messages back to it
echo_to_sender = false

[blacklist]
# Where denied IPs are stored
path = "~/.pychat/ipblacklist"

# "file" (CSV) or "sqlite"
backend = "file"

[http]
# Address for /metrics, /health and the /ws WebSocket transport
# Uncomment to enable:
# addr = "127.0.0.1:9090"

[logging]
# Directory for server.log, errors.log and debug.log
# Uncomment to enable file logging:
# dir = "~/.pychat/logs"

# Write debug messages
debug = false
`

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ToServerConfig converts TOMLConfig to Config. Zero values keep the defaults.
func (c *TOMLConfig) ToServerConfig() (Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(c.Server.Host) != "" {
		cfg.Host = c.Server.Host
	}
	if c.Server.Port != 0 {
		cfg.Port = c.Server.Port
	}
	if c.Server.BufferSize != 0 {
		cfg.BufferSize = c.Server.BufferSize
	}

	if c.Limits.MaxClients != nil {
		cfg.MaxClients = *c.Limits.MaxClients
	}
	if c.Limits.MaxUsernameLength != 0 {
		cfg.MaxUsernameLength = c.Limits.MaxUsernameLength
	}
	if c.Limits.MaxDataLength > 0 {
		cfg.MaxDataLength = uint32(c.Limits.MaxDataLength)
	}
	if c.Limits.HandshakeTimeoutSeconds != nil {
		cfg.HandshakeTimeout = time.Duration(*c.Limits.HandshakeTimeoutSeconds) * time.Second
	}

	if c.Broadcast.QueueSize != 0 {
		cfg.BroadcastQueueSize = c.Broadcast.QueueSize
	}
	if c.Broadcast.SendTimeoutSeconds != nil {
		cfg.SendTimeout = time.Duration(*c.Broadcast.SendTimeoutSeconds) * time.Second
	}
	if c.Broadcast.EchoToSender != nil {
		cfg.EchoToSender = *c.Broadcast.EchoToSender
	}

	if strings.TrimSpace(c.Blacklist.Path) != "" {
		path, err := expandHome(c.Blacklist.Path)
		if err != nil {
			return Config{}, err
		}
		cfg.BlacklistPath = path
	}
	if c.Blacklist.Backend != "" {
		cfg.BlacklistBackend = c.Blacklist.Backend
	}

	cfg.HTTPAddr = strings.TrimSpace(c.HTTP.Addr)

	if strings.TrimSpace(c.Logging.Dir) != "" {
		dir, err := expandHome(c.Logging.Dir)
		if err != nil {
			return Config{}, err
		}
		cfg.LogDir = dir
	}
	cfg.Debug = c.Logging.Debug

	return cfg, cfg.Validate()
}
