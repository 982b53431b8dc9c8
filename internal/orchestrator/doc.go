// Package orchestrator turns discovered devices into running bridge sessions.
//
// The Orchestrator drains the discovery stream; for every device the shared
// Starter opens a messaging connection, removes the device's address from
// the PendingSet and starts the device task. A failure for one device is
// recorded in the Summary and iteration continues.
//
// Addresses still pending when the stream ends are handed to a RetryManager
// running in the background. It re-probes them with exponential backoff
// between passes until they appear or the context is cancelled.
//
//	starter := orchestrator.NewStarter(messagingClient, taskRunner)
//	orch := orchestrator.New(starter, func(p *orchestrator.PendingSet) (*orchestrator.RetryManager, error) {
//	    return orchestrator.NewRetryManager(scanner, starter, p, orchestrator.DefaultRetryConfig())
//	})
//	summary := orch.Run(ctx, devices, orchestrator.NewPendingSet(cfg.Network))
package orchestrator
