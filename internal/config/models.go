package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// CurrentVersion is the config file schema version written by Save.
const CurrentVersion = 1

// Defaults mirrored by the CLI flag help text.
const (
	DefaultSubnet           = "192.168.1.0/24"
	DefaultConcurrency      = 20
	DefaultProbeTimeout     = 2 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultDevicePort       = 7000
	DefaultMQTTPort         = 1883
	DefaultTopic            = "gree"
	DefaultUpdateInterval   = 3 * time.Second
	DefaultRetryInitial     = 30 * time.Second
	DefaultRetryMax         = 10 * time.Minute
	DefaultRetryMultiplier  = 2.0
	DefaultMDNSTimeout      = 3 * time.Second

	BackendMQTT  = "mqtt"
	BackendRedis = "redis"
)

// Config is the complete bridge configuration.
type Config struct {
	Version int `yaml:"version"`

	// Network is an explicit list of device addresses. When non-empty it
	// replaces subnet scanning and every listed address is expected.
	Network []string `yaml:"network,omitempty"`

	// Subnet is scanned when Network is empty.
	Subnet string `yaml:"subnet"`

	Scan      ScanConfig      `yaml:"scan"`
	Retry     RetryConfig     `yaml:"retry"`
	Messaging MessagingConfig `yaml:"messaging"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// ScanConfig controls network discovery.
type ScanConfig struct {
	Concurrency      int           `yaml:"concurrency"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	DevicePort       int           `yaml:"device_port"`
	MDNSService      string        `yaml:"mdns_service,omitempty"` // Optional mDNS service type used for target hints
	MDNSTimeout      time.Duration `yaml:"mdns_timeout"`
}

// RetryConfig controls the background retry of missing devices.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// MessagingConfig selects and configures the pub/sub backend.
type MessagingConfig struct {
	Backend string      `yaml:"backend"` // "mqtt" or "redis"
	Topic   string      `yaml:"topic"`   // Topic prefix, e.g. "gree"
	QoS     int         `yaml:"qos"`
	Retain  bool        `yaml:"retain"`
	MQTT    MQTTConfig  `yaml:"mqtt"`
	Redis   RedisConfig `yaml:"redis"`
}

// MQTTConfig configures the MQTT broker connection.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"` // Hostname or full URL (tcp://, ssl://, ws://, wss://)
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username,omitempty"`
	Password       string        `yaml:"password,omitempty"`
	ClientIDPrefix string        `yaml:"client_id_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// RedisConfig configures the Redis pub/sub connection.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// BridgeConfig controls the per-device bridge task.
type BridgeConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// StorageConfig locates the known-device database.
type StorageConfig struct {
	Path string `yaml:"path,omitempty"` // Empty means <config dir>/devices.db
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Subnet:  DefaultSubnet,
		Scan: ScanConfig{
			Concurrency:      DefaultConcurrency,
			ProbeTimeout:     DefaultProbeTimeout,
			HandshakeTimeout: DefaultHandshakeTimeout,
			DevicePort:       DefaultDevicePort,
			MDNSTimeout:      DefaultMDNSTimeout,
		},
		Retry: RetryConfig{
			InitialInterval: DefaultRetryInitial,
			MaxInterval:     DefaultRetryMax,
			Multiplier:      DefaultRetryMultiplier,
		},
		Messaging: MessagingConfig{
			Backend: BackendMQTT,
			Topic:   DefaultTopic,
			MQTT: MQTTConfig{
				Broker:         "localhost",
				Port:           DefaultMQTTPort,
				ClientIDPrefix: "greemqtt",
				ConnectTimeout: 10 * time.Second,
			},
			Redis: RedisConfig{
				URL: "redis://localhost:6379/0",
			},
		},
		Bridge: BridgeConfig{
			UpdateInterval: DefaultUpdateInterval,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// BrokerURL returns the MQTT broker as a URL. A bare hostname becomes
// tcp://host:port.
func (m MQTTConfig) BrokerURL() string {
	if strings.Contains(m.Broker, "://") {
		return m.Broker
	}
	port := m.Port
	if port == 0 {
		port = DefaultMQTTPort
	}
	return "tcp://" + net.JoinHostPort(m.Broker, strconv.Itoa(port))
}

// Validate checks the configuration for values the bridge cannot run with.
func (c *Config) Validate() error {
	if c.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %d (expected %d)", c.Version, CurrentVersion)
	}
	for _, addr := range c.Network {
		if ip := net.ParseIP(addr); ip == nil || ip.To4() == nil {
			return fmt.Errorf("network: %q is not an IPv4 address", addr)
		}
	}
	if len(c.Network) == 0 && c.Subnet == "" {
		return fmt.Errorf("either network or subnet must be set")
	}
	if c.Scan.Concurrency < 1 {
		return fmt.Errorf("scan.concurrency must be at least 1, got %d", c.Scan.Concurrency)
	}
	if c.Scan.ProbeTimeout <= 0 || c.Scan.HandshakeTimeout <= 0 {
		return fmt.Errorf("scan timeouts must be positive")
	}
	if c.Scan.DevicePort <= 0 || c.Scan.DevicePort > 65535 {
		return fmt.Errorf("scan.device_port out of range: %d", c.Scan.DevicePort)
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals invalid: initial=%s max=%s", c.Retry.InitialInterval, c.Retry.MaxInterval)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be >= 1, got %v", c.Retry.Multiplier)
	}
	switch c.Messaging.Backend {
	case BackendMQTT:
		if c.Messaging.MQTT.Broker == "" {
			return fmt.Errorf("messaging.mqtt.broker is required")
		}
	case BackendRedis:
		if c.Messaging.Redis.URL == "" {
			return fmt.Errorf("messaging.redis.url is required")
		}
	default:
		return fmt.Errorf("unknown messaging backend %q (expected mqtt or redis)", c.Messaging.Backend)
	}
	if c.Messaging.QoS < 0 || c.Messaging.QoS > 2 {
		return fmt.Errorf("messaging.qos must be 0, 1 or 2, got %d", c.Messaging.QoS)
	}
	if c.Messaging.Topic == "" {
		return fmt.Errorf("messaging.topic is required")
	}
	if c.Bridge.UpdateInterval <= 0 {
		return fmt.Errorf("bridge.update_interval must be positive")
	}
	return nil
}
