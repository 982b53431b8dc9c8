// Package app assembles the bridge daemon.
//
// Build creates the production collaborators from a config.Config:
//
//	store.SQLite           known device records
//	messaging.Client       MQTT or Redis, one connection per device
//	gree.Client            probe, handshake, status and commands over UDP
//	bridge.Runner          per-device poll/publish/command task
//	discovery.MDNSBrowser  optional target hints
//
// App.Run performs one discovery pass, leaves the retry manager working in
// the background and then blocks on the shutdown signal. A configuration or
// discovery failure is logged and the process keeps waiting; only a signal
// ends Run. On shutdown it waits (bounded by ShutdownGrace) for the retry
// manager and every device task, then flushes pending store writes.
package app
