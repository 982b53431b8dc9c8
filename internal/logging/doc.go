// Package logging provides structured logging for the greemqtt bridge.
//
// This package wraps a package-global zap logger with convenience functions
// for the log events emitted throughout discovery, orchestration and the
// per-device bridge tasks.
//
// # Log Levels
//
//   - Debug: raw UDP packets, per-address probe results, MQTT traffic
//   - Info: discovered devices, started bridges, summaries
//   - Warn: unreachable or invalid devices, missing expected devices
//   - Error: session start failures, bootstrap failures
//
// # Configuration
//
// Initialize logging before anything else:
//
//	if err := logging.Initialize("debug", "console"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// An empty level falls back to the GREEMQTT_LOG_LEVEL environment variable
// and then to "info". The level "silent" disables output entirely.
//
// # Domain Helpers
//
//	logging.LogDiscovery("192.168.1.20", "device_found")
//	logging.LogDeviceEvent("f4911e1a2b3c", "192.168.1.20", "bridge_started")
//	logging.LogRawPacket("UDP packet received", "192.168.1.20:7000", data)
//
// # Thread Safety
//
// All functions are safe for concurrent use.
package logging
