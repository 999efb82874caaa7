package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "0.0.0.0", cfg.Relay.LocalAddress)
	assert.Equal(t, 5000, cfg.Relay.UplinkPort)
	assert.Equal(t, 6000, cfg.Relay.DownlinkPort)
	assert.Equal(t, 7000, cfg.Relay.PeerDownlinkPort)
	assert.Equal(t, 20, cfg.Relay.FrameRate)
	assert.Equal(t, 40, cfg.Relay.WindowRTTScale)
	assert.True(t, cfg.Relay.Pacing)
	assert.Zero(t, cfg.Relay.MaxSendQueue)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Listen)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"json format", func(c *Config) { c.LogFormat = "json" }, false},
		{"bad address", func(c *Config) { c.Relay.LocalAddress = "relay.local" }, true},
		{"ipv6 address", func(c *Config) { c.Relay.LocalAddress = "::1" }, false},
		{"uplink port zero", func(c *Config) { c.Relay.UplinkPort = 0 }, true},
		{"peer port too large", func(c *Config) { c.Relay.PeerDownlinkPort = 70000 }, true},
		{"downlink range overflows", func(c *Config) { c.Relay.DownlinkPort = 65400 }, true},
		{"uplink inside downlink range", func(c *Config) { c.Relay.UplinkPort = 6100 }, true},
		{"uplink just past downlink range", func(c *Config) { c.Relay.UplinkPort = 6256 }, false},
		{"frame rate zero", func(c *Config) { c.Relay.FrameRate = 0 }, true},
		{"frame rate too high", func(c *Config) { c.Relay.FrameRate = 241 }, true},
		{"window scale zero", func(c *Config) { c.Relay.WindowRTTScale = 0 }, true},
		{"negative send queue", func(c *Config) { c.Relay.MaxSendQueue = -1 }, true},
		{"write queue zero", func(c *Config) { c.Relay.WriteQueue = 0 }, true},
		{"event queue zero", func(c *Config) { c.Relay.EventQueue = 0 }, true},
		{"metrics port conflicts", func(c *Config) { c.Metrics.Listen = ":5000" }, true},
		{"metrics port in downlink range", func(c *Config) { c.Metrics.Listen = ":6005" }, true},
		{"metrics conflict ignored when disabled", func(c *Config) {
			c.Metrics.Enabled = false
			c.Metrics.Listen = ":5000"
		}, false},
		{"metrics listen malformed", func(c *Config) { c.Metrics.Listen = "9100" }, true},
		{"metrics path relative", func(c *Config) { c.Metrics.Path = "metrics" }, true},
		{"metrics paths equal", func(c *Config) { c.Metrics.HealthPath = "/metrics" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	content := `
node_id: 3
log_level: debug
relay:
  local_address: 10.0.0.1
  frame_rate: 30
  pacing: false
metrics:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cfg.NodeID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30, cfg.Relay.FrameRate)
	assert.False(t, cfg.Relay.Pacing)
	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, 5000, cfg.Relay.UplinkPort, "unset keys keep defaults")

	assert.Equal(t, netip.MustParseAddrPort("10.0.0.1:5000"), cfg.Relay.UplinkAddr())
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.1:6002"), cfg.Relay.DownlinkAddr(2))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	badYAML := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("relay: [unterminated"), 0o600))
	_, err = Load(badYAML)
	assert.Error(t, err)

	invalidValue := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalidValue, []byte("relay:\n  frame_rate: 0\n"), 0o600))
	_, err = Load(invalidValue)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestWriteExampleConfigRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	require.NoError(t, WriteExampleConfig(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestConfigureLogger(t *testing.T) {
	logger := logrus.New()
	cfg := DefaultConfig()
	cfg.LogLevel = "warn"
	cfg.LogFormat = "json"

	require.NoError(t, cfg.ConfigureLogger(logger))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	cfg.LogLevel = "nope"
	assert.ErrorIs(t, cfg.ConfigureLogger(logger), ErrInvalidConfig)
}
