// Package gree implements the local UDP protocol of Gree air conditioners.
//
// Every datagram is a JSON envelope (Packet). Anything beyond the initial
// scan is carried in the base64 "pack" field, encrypted with AES-128:
//
//   - ECB with PKCS#7 padding for older firmware. Scan and bind use
//     GenericKey; later traffic uses the key returned by bind.
//   - GCM with a fixed nonce and AAD for newer firmware. The tag travels in a
//     separate "tag" field. Bind uses GenericGCMKey.
//
// # Session bring-up
//
//	c := gree.NewClient(7000)
//	if c.Probe(ctx, "192.168.1.50") {
//	    dev, err := c.Handshake(ctx, "192.168.1.50") // scan + bind
//	    state, err := c.Status(ctx, *dev, nil)
//	    err = c.Set(ctx, *dev, map[string]interface{}{"Pow": 1})
//	}
//
// Client satisfies discovery.Prober and discovery.Handshaker.
//
// # Errors
//
// Failures are reported as *DeviceError with an ErrorType. Socket errors are
// classified by ClassifyNetworkError; use IsNetworkError and IsRetryable to
// decide whether trying again later can help.
package gree
