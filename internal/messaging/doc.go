// Package messaging provides the pub/sub connections device bridges publish
// state to and receive commands from.
//
// # Backends
//
// Two backends implement Client:
//
//   - MQTTClient (Eclipse Paho). The broker may be tcp://, ssl://, ws:// or
//     wss://; WebSocket brokers are reached through DialWebSocket, which
//     adapts a gorilla/websocket connection to net.Conn.
//   - RedisClient (go-redis). Topics map to Redis channels, MQTT wildcards
//     to PSUBSCRIBE patterns, and retained payloads are stored under
//     "retained:<topic>".
//
// # Ownership
//
// Every device gets its own Conn from Client.Open. Whoever holds the Conn
// must Close it on every exit path; Close is idempotent.
package messaging
