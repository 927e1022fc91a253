package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:5000", cfg.Addr())
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = 70000
	cfg.BufferSize = 0
	cfg.MaxClients = -1
	cfg.MaxUsernameLength = 300
	cfg.BlacklistBackend = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"port", "buffer size", "max clients", "max username length", "redis"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadConfigWritesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "server.toml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTOMLConfig().Server, cfg.Server)

	// The generated file parses back to the same settings
	_, err = os.Stat(path)
	require.NoError(t, err)
	var written TOMLConfig
	_, err = toml.DecodeFile(path, &written)
	require.NoError(t, err)

	fromFile, err := written.ToServerConfig()
	require.NoError(t, err)
	fromDefaults, err := cfg.ToServerConfig()
	require.NoError(t, err)
	assert.Equal(t, fromDefaults, fromFile)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	content := `
[server]
host = "0.0.0.0"
port = 6000

[limits]
max_clients = 0
max_username_length = 32
handshake_timeout_seconds = 0

[broadcast]
echo_to_sender = true
send_timeout_seconds = 2

[blacklist]
path = "/var/lib/pychat/blacklist.db"
backend = "sqlite"

[http]
addr = "127.0.0.1:9090"

[logging]
debug = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	tomlCfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg, err := tomlCfg.ToServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:6000", cfg.Addr())
	assert.Equal(t, 4096, cfg.BufferSize, "unset keys keep defaults")
	assert.Equal(t, 0, cfg.MaxClients, "explicit zero means unlimited")
	assert.Equal(t, 32, cfg.MaxUsernameLength)
	assert.Equal(t, time.Duration(0), cfg.HandshakeTimeout)
	assert.Equal(t, 2*time.Second, cfg.SendTimeout)
	assert.True(t, cfg.EchoToSender)
	assert.Equal(t, BlacklistBackendSQLite, cfg.BlacklistBackend)
	assert.Equal(t, "/var/lib/pychat/blacklist.db", cfg.BlacklistPath)
	assert.Equal(t, "127.0.0.1:9090", cfg.HTTPAddr)
	assert.True(t, cfg.Debug)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 6000\n"), 0644))

	t.Setenv("PYCHAT_SERVER_PORT", "7000")
	t.Setenv("PYCHAT_LIMITS_MAX_CLIENTS", "3")
	t.Setenv("PYCHAT_BROADCAST_ECHO_TO_SENDER", "true")
	t.Setenv("PYCHAT_LOGGING_DEBUG", "not-a-bool")

	tomlCfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg, err := tomlCfg.ToServerConfig()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, 3, cfg.MaxClients)
	assert.True(t, cfg.EchoToSender)
	assert.False(t, cfg.Debug, "unparseable values are ignored")
}

func TestLoadConfigParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestToServerConfigRejectsInvalid(t *testing.T) {
	tomlCfg := DefaultTOMLConfig()
	tomlCfg.Limits.MaxUsernameLength = 1000

	_, err := tomlCfg.ToServerConfig()
	assert.Error(t, err)
}
