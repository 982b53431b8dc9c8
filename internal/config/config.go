package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "greemqtt"
	configFile = "config.yaml"
	dbFile     = "devices.db"
)

// Mutex for thread-safe file operations
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory for the application.
//   - Linux: $XDG_CONFIG_HOME/greemqtt or $HOME/.config/greemqtt
//   - macOS: $HOME/.config/greemqtt
//   - Windows: %LOCALAPPDATA%\greemqtt
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the full path to the default configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// Load reads the configuration file at path (the default location when path
// is empty), then applies environment overrides and validates the result.
// A missing file is not an error: defaults are used instead.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if cfg.Storage.Path == "" {
		dir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		cfg.Storage.Path = filepath.Join(dir, dbFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal over defaults so omitted keys keep their default value
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides configuration values from environment variables using
// the conventional container variable names (NETWORK, SUBNET, MQTT_*...).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	if v, ok := get("NETWORK"); ok {
		c.Network = splitList(v)
	}
	if v, ok := get("SUBNET"); ok {
		c.Subnet = v
	}
	if v, ok := get("MQTT_BROKER"); ok {
		c.Messaging.MQTT.Broker = v
	}
	if v, ok := get("MQTT_USER"); ok {
		c.Messaging.MQTT.Username = v
	}
	if v, ok := get("MQTT_PASSWORD"); ok {
		c.Messaging.MQTT.Password = v
	}
	if v, ok := get("MQTT_TOPIC"); ok {
		c.Messaging.Topic = v
	}
	if v, ok := get("MESSAGING_BACKEND"); ok {
		c.Messaging.Backend = strings.ToLower(v)
	}
	if v, ok := get("REDIS_URL"); ok {
		c.Messaging.Redis.URL = v
	}
	if v, ok := get("DB_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := get("MDNS_SERVICE"); ok {
		c.Scan.MDNSService = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MQTT_PORT", &c.Messaging.MQTT.Port},
		{"MQTT_QOS", &c.Messaging.QoS},
		{"SCAN_CONCURRENCY", &c.Scan.Concurrency},
	}
	for _, e := range ints {
		if v, ok := get(e.key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %q is not an integer", e.key, v)
			}
			*e.dst = n
		}
	}

	if v, ok := get("MQTT_RETAIN"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MQTT_RETAIN: %q is not a boolean", v)
		}
		c.Messaging.Retain = b
	}

	if v, ok := get("UPDATE_INTERVAL"); ok {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("UPDATE_INTERVAL: %w", err)
		}
		c.Bridge.UpdateInterval = d
	}

	return nil
}

// parseInterval accepts a Go duration ("5s") or a bare number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%q is neither seconds nor a duration", v)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Save writes the configuration to path (the default location when empty).
// Performs an atomic write to prevent corruption on crash.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		var err error
		path, err = GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# greemqtt configuration file
# Environment variables (NETWORK, SUBNET, MQTT_BROKER, ...) override these values.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}
