// Package config provides configuration management for the greemqtt bridge.
//
// Configuration is resolved once at startup from three layers, later layers
// winning:
//
//  1. Built-in defaults (Default)
//  2. A YAML file, by default at the OS-specific config location
//  3. Environment variables
//     (NETWORK, SUBNET, MQTT_BROKER, MQTT_PORT, MQTT_USER, MQTT_PASSWORD,
//     MQTT_TOPIC, MQTT_QOS, MQTT_RETAIN, UPDATE_INTERVAL, DB_PATH,
//     SCAN_CONCURRENCY, MESSAGING_BACKEND, REDIS_URL, MDNS_SERVICE)
//
// Command-line flags are applied on top by cmd/greemqtt.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/greemqtt/config.yaml or $HOME/.config/greemqtt/config.yaml
//   - macOS: $HOME/.config/greemqtt/config.yaml
//   - Windows: %LOCALAPPDATA%\greemqtt\config.yaml
//
// # Example
//
//	version: 1
//	network: ["192.168.1.20", "192.168.1.21"]
//	subnet: 192.168.1.0/24
//	scan:
//	  concurrency: 20
//	  probe_timeout: 2s
//	messaging:
//	  backend: mqtt
//	  topic: gree
//	  mqtt:
//	    broker: mosquitto.local
//	    port: 1883
package config
