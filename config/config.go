// Package config loads and validates the relay configuration.
//
// Configuration is YAML. Load starts from DefaultConfig, so a file only
// needs the keys it changes:
//
//	node_id: 3
//	relay:
//	  local_address: 10.0.0.1
//	  frame_rate: 30
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"

	"github.com/opd-ai/confrelay/limits"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig indicates a configuration value failed validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete relay configuration.
type Config struct {
	NodeID    uint32        `yaml:"node_id"`
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Relay     RelayConfig   `yaml:"relay"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// RelayConfig configures addresses, ports and the forwarding engine.
type RelayConfig struct {
	LocalAddress string `yaml:"local_address"`

	// UplinkPort is where peers connect to send their media.
	UplinkPort int `yaml:"uplink_port"`

	// DownlinkPort is the local port of the first downlink connection. Each
	// accepted peer takes the next port.
	DownlinkPort int `yaml:"downlink_port"`

	// PeerDownlinkPort is the port peers listen on for their downlink.
	PeerDownlinkPort int `yaml:"peer_downlink_port"`

	FrameRate      int  `yaml:"frame_rate"`
	WindowRTTScale int  `yaml:"window_rtt_scale"`
	Pacing         bool `yaml:"pacing"`

	// MaxSendQueue caps each link's send buffer in frames. Zero is unbounded.
	MaxSendQueue int `yaml:"max_send_queue"`

	WriteQueue int `yaml:"write_queue"`
	EventQueue int `yaml:"event_queue"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	HealthPath string `yaml:"health_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:    0,
		LogLevel:  "info",
		LogFormat: "text",
		Relay: RelayConfig{
			LocalAddress:     "0.0.0.0",
			UplinkPort:       5000,
			DownlinkPort:     6000,
			PeerDownlinkPort: 7000,
			FrameRate:        20,
			WindowRTTScale:   40,
			Pacing:           true,
			MaxSendQueue:     0,
			WriteQueue:       64,
			EventQueue:       1024,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			Listen:     ":9100",
			Path:       "/metrics",
			HealthPath: "/health",
		},
	}
}

// Load reads, decodes and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks every field and the port layout.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("log_format %q (supported: text, json)", c.LogFormat)
	}

	if _, err := c.Relay.Address(); err != nil {
		return invalid("relay.local_address %q", c.Relay.LocalAddress)
	}

	for name, port := range map[string]int{
		"relay.uplink_port":        c.Relay.UplinkPort,
		"relay.downlink_port":      c.Relay.DownlinkPort,
		"relay.peer_downlink_port": c.Relay.PeerDownlinkPort,
	} {
		if port < 1 || port > 65535 {
			return invalid("%s %d out of range 1-65535", name, port)
		}
	}

	lastDownlink := c.Relay.DownlinkPort + limits.MaxLinks - 1
	if lastDownlink > 65535 {
		return invalid("relay.downlink_port range %d-%d exceeds 65535", c.Relay.DownlinkPort, lastDownlink)
	}
	if c.Relay.UplinkPort >= c.Relay.DownlinkPort && c.Relay.UplinkPort <= lastDownlink {
		return invalid("relay.uplink_port %d conflicts with downlink range %d-%d",
			c.Relay.UplinkPort, c.Relay.DownlinkPort, lastDownlink)
	}

	if c.Relay.FrameRate < 1 || c.Relay.FrameRate > 240 {
		return invalid("relay.frame_rate %d out of range 1-240", c.Relay.FrameRate)
	}
	if c.Relay.WindowRTTScale < 1 {
		return invalid("relay.window_rtt_scale must be positive")
	}
	if c.Relay.MaxSendQueue < 0 {
		return invalid("relay.max_send_queue must not be negative")
	}
	if c.Relay.WriteQueue < 1 {
		return invalid("relay.write_queue must be positive")
	}
	if c.Relay.EventQueue < 1 {
		return invalid("relay.event_queue must be positive")
	}

	if c.Metrics.Enabled {
		port, err := parsePort(c.Metrics.Listen)
		if err != nil {
			return invalid("metrics.listen %q: %v", c.Metrics.Listen, err)
		}
		if port == c.Relay.UplinkPort || (port >= c.Relay.DownlinkPort && port <= lastDownlink) {
			return invalid("metrics.listen port %d conflicts with relay ports", port)
		}
		if c.Metrics.Path == "" || c.Metrics.Path[0] != '/' {
			return invalid("metrics.path %q must start with /", c.Metrics.Path)
		}
		if c.Metrics.HealthPath == "" || c.Metrics.HealthPath[0] != '/' {
			return invalid("metrics.health_path %q must start with /", c.Metrics.HealthPath)
		}
		if c.Metrics.Path == c.Metrics.HealthPath {
			return invalid("metrics.path and metrics.health_path must differ")
		}
	}

	return nil
}

// Address returns the parsed local address.
func (r RelayConfig) Address() (netip.Addr, error) {
	addr, err := netip.ParseAddr(r.LocalAddress)
	if err != nil {
		return netip.Addr{}, err
	}
	return addr.Unmap(), nil
}

// UplinkAddr returns the uplink listen endpoint.
func (r RelayConfig) UplinkAddr() netip.AddrPort {
	addr, _ := r.Address()
	return netip.AddrPortFrom(addr, uint16(r.UplinkPort))
}

// DownlinkAddr returns the local endpoint of the n-th downlink.
func (r RelayConfig) DownlinkAddr(n int) netip.AddrPort {
	addr, _ := r.Address()
	return netip.AddrPortFrom(addr, uint16(r.DownlinkPort+n))
}

func parsePort(listen string) (int, error) {
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, err
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("port %d out of range", port)
	}
	return port, nil
}

// ConfigureLogger applies log_level and log_format to logger.
func (c *Config) ConfigureLogger(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return invalid("log_level %q", c.LogLevel)
	}
	logger.SetLevel(level)

	switch c.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// WriteExampleConfig writes the default configuration to path.
func WriteExampleConfig(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	header := []byte("# confrelay configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
