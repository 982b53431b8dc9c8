// Package store keeps known device records (id, address, session key,
// cipher variant) in SQLite so a restart can skip the bind handshake for
// devices it has seen before. It implements discovery.Store.
package store
