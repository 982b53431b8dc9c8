// Package discovery finds Gree appliances on the local network.
//
// Discovery works over a target address set, either an explicit list from the
// configuration or every usable host of a subnet (see ResolveTargets). For
// each address the Scanner:
//
//  1. Sends a lightweight probe (Prober)
//  2. Reuses a known device record for that address if one exists
//  3. Otherwise performs the bind handshake (Handshaker) and persists the
//     new record asynchronously (Store)
//
// # Concurrency
//
// Scan resolves addresses concurrently, capped by Scanner.Concurrency through
// a counting semaphore, and streams devices on a channel in completion order.
// A failure for one address (probe error, handshake error, timeout) is logged
// and never affects the others.
//
// # Usage Example
//
//	scanner := discovery.NewScanner(client, client, store)
//	known := scanner.KnownDevices(ctx)
//	targets, err := discovery.ResolveTargets(nil, "192.168.1.0/24", known, nil)
//	if err != nil {
//	    return err // *ConfigurationError wrapping ErrNoTargets
//	}
//	devices, err := scanner.Scan(ctx, targets, known)
//	for dev := range devices {
//	    fmt.Println(dev)
//	}
//
// # Cancellation
//
// Cancelling the context stops new probes from starting; in-flight probes
// observe the cancellation through their own contexts and the stream closes.
//
// # mDNS Hints
//
// MDNSBrowser collects addresses advertising a configured mDNS service type
// so they can be scanned ahead of the rest of the subnet.
package discovery
