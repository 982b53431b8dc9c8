// Package bridge runs the long-lived task that connects one device to its
// messaging connection.
//
// # Topics
//
// For a device with id ID under prefix P:
//
//	P/ID               device state as a JSON object, published every poll
//	P/ID/set           JSON object of property -> value, applied with Set
//	P/ID/availability  "online" while the task runs, "offline" after
//
// A task polls immediately on start and after every command, then every
// Options.UpdateInterval. Poll and publish errors are logged and the loop
// carries on; the task ends only when its context is cancelled, after which
// it closes its connection and Done is closed.
package bridge
