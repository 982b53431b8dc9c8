package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/bridge"
	"github.com/greemqtt/greemqtt/internal/config"
	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/gree"
	"github.com/greemqtt/greemqtt/internal/logging"
	"github.com/greemqtt/greemqtt/internal/messaging"
	"github.com/greemqtt/greemqtt/internal/orchestrator"
	"github.com/greemqtt/greemqtt/internal/shutdown"
	"github.com/greemqtt/greemqtt/internal/store"
	"github.com/greemqtt/greemqtt/internal/version"
)

// DefaultShutdownGrace bounds how long Run waits for device tasks to exit.
const DefaultShutdownGrace = 10 * time.Second

// HintSource supplies addresses worth probing first (e.g. mDNS answers).
type HintSource interface {
	Browse(ctx context.Context) ([]string, error)
}

// Deps are the collaborators an App is assembled from.
type Deps struct {
	Store      discovery.Store
	Connector  orchestrator.Connector
	Prober     discovery.Prober
	Handshaker discovery.Handshaker
	Runner     orchestrator.TaskRunner
	Hints      HintSource // Optional
}

// App wires discovery, orchestration and shutdown together.
type App struct {
	cfg     *config.Config
	hints   HintSource
	scanner *discovery.Scanner
	starter *orchestrator.Starter
	orch    *orchestrator.Orchestrator

	// ShutdownGrace bounds the wait for device tasks on shutdown
	ShutdownGrace time.Duration
}

// New assembles an App from cfg and deps.
func New(cfg *config.Config, deps Deps) *App {
	scanner := discovery.NewScanner(deps.Prober, deps.Handshaker, deps.Store)
	scanner.Concurrency = cfg.Scan.Concurrency
	scanner.ProbeTimeout = cfg.Scan.ProbeTimeout
	scanner.HandshakeTimeout = cfg.Scan.HandshakeTimeout

	starter := orchestrator.NewStarter(deps.Connector, deps.Runner)

	retryCfg := orchestrator.DefaultRetryConfig()
	if cfg.Retry.InitialInterval > 0 {
		retryCfg.InitialInterval = cfg.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval > 0 {
		retryCfg.MaxInterval = cfg.Retry.MaxInterval
	}
	if cfg.Retry.Multiplier >= 1 {
		retryCfg.Multiplier = cfg.Retry.Multiplier
	}

	orch := orchestrator.New(starter, func(pending *orchestrator.PendingSet) (*orchestrator.RetryManager, error) {
		return orchestrator.NewRetryManager(scanner, starter, pending, retryCfg)
	})

	return &App{
		cfg:           cfg,
		hints:         deps.Hints,
		scanner:       scanner,
		starter:       starter,
		orch:          orch,
		ShutdownGrace: DefaultShutdownGrace,
	}
}

// Build creates the production collaborators for cfg: the SQLite store, the
// messaging client, the Gree UDP client and the bridge runner. The returned
// closer releases the store.
func Build(cfg *config.Config) (*App, func() error, error) {
	db, err := store.Open(cfg.Storage.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open device store: %w", err)
	}

	client, err := messaging.New(cfg.Messaging)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	device := gree.NewClient(cfg.Scan.DevicePort)
	device.Timeout = cfg.Scan.HandshakeTimeout

	runner := bridge.NewRunner(device, bridge.Options{
		Topic:          cfg.Messaging.Topic,
		Retain:         cfg.Messaging.Retain,
		UpdateInterval: cfg.Bridge.UpdateInterval,
	})

	deps := Deps{
		Store:      db,
		Connector:  client,
		Prober:     device,
		Handshaker: device,
		Runner:     taskRunner{runner},
	}
	if cfg.Scan.MDNSService != "" {
		browser := discovery.NewMDNSBrowser(cfg.Scan.MDNSService)
		if cfg.Scan.MDNSTimeout > 0 {
			browser.Timeout = cfg.Scan.MDNSTimeout
		}
		deps.Hints = browser
	}

	return New(cfg, deps), db.Close, nil
}

// taskRunner adapts bridge.Runner to orchestrator.TaskRunner.
type taskRunner struct {
	runner *bridge.Runner
}

func (r taskRunner) Start(ctx context.Context, dev discovery.Device, conn messaging.Conn) (orchestrator.Task, error) {
	task, err := r.runner.Start(ctx, dev, conn)
	if err != nil {
		// Return a nil interface, not a typed nil *bridge.Task.
		return nil, err
	}
	return task, nil
}

// Targets resolves the address set to scan, consulting the hint source only
// when no explicit network is configured.
func (a *App) Targets(ctx context.Context, known []discovery.Device) ([]string, error) {
	var hints []string
	if len(a.cfg.Network) == 0 && a.hints != nil {
		found, err := a.hints.Browse(ctx)
		if err != nil {
			logging.Warn("mDNS browse failed, scanning subnet only", zap.Error(err))
		}
		hints = found
		if len(hints) > 0 {
			logging.Info("mDNS hints found", zap.Strings("addresses", hints))
		}
	}
	return discovery.ResolveTargets(a.cfg.Network, a.cfg.Subnet, known, hints)
}

// Discover runs one discovery pass and starts a session for every device
// found. Expected devices that were not found are retried in the background.
func (a *App) Discover(ctx context.Context) (orchestrator.Summary, error) {
	known := a.scanner.KnownDevices(ctx)

	targets, err := a.Targets(ctx, known)
	if err != nil {
		return orchestrator.Summary{}, err
	}

	pending := orchestrator.NewPendingSet(a.cfg.Network)

	devices, err := a.scanner.Scan(ctx, targets, known)
	if err != nil {
		return orchestrator.Summary{}, err
	}

	return a.orch.Run(ctx, devices, pending), nil
}

// Scan runs discovery without starting any sessions and returns what was
// found. Newly bound devices are persisted before it returns.
func (a *App) Scan(ctx context.Context) ([]discovery.Device, error) {
	known := a.scanner.KnownDevices(ctx)

	targets, err := a.Targets(ctx, known)
	if err != nil {
		return nil, err
	}

	devices, err := a.scanner.Scan(ctx, targets, known)
	if err != nil {
		return nil, err
	}

	var found []discovery.Device
	for d := range devices {
		found = append(found, d)
	}
	a.scanner.Flush()
	return found, nil
}

// Run performs discovery, then keeps the bridge running until sig is set.
// Discovery errors are logged and never end the process early.
func (a *App) Run(sig *shutdown.Signal) error {
	ctx := sig.Context()

	logging.Info("Starting Gree device discovery",
		zap.String("version", version.UserAgent()),
		zap.Strings("network", a.cfg.Network),
		zap.String("subnet", a.cfg.Subnet),
		zap.Int("concurrency", a.cfg.Scan.Concurrency),
	)

	a.discoverSafely(ctx)

	if !sig.IsSet() {
		logging.Info("Bridge running, waiting for shutdown signal")
	}
	<-sig.Done()

	return a.shutdown()
}

func (a *App) discoverSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Unhandled error during device discovery, continuing to run",
				zap.Any("panic", r))
		}
	}()

	summary, err := a.Discover(ctx)
	if err != nil {
		var cfgErr *discovery.ConfigurationError
		if errors.As(err, &cfgErr) {
			logging.Error("Configuration error", zap.Error(err))
		} else {
			logging.Error("Error during device discovery and setup", zap.Error(err))
		}
		return
	}
	if err := summary.Err(); err != nil {
		logging.Debug("Device setup failures", zap.Errors("errors", multierr.Errors(err)))
	}
}

func (a *App) shutdown() error {
	logging.Info("Shutting down bridge...")

	grace := a.ShutdownGrace
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("Retry manager did not stop in time")
	}

	if err := a.starter.Wait(ctx); err != nil {
		logging.Warn("Shutdown timeout, some device tasks are still running",
			zap.Duration("grace", grace))
	} else {
		logging.Info("All device tasks stopped", zap.Int("devices", a.starter.Started()))
	}

	// A retry pass may still be running if the wait above timed out.
	a.scanner.Close()
	logging.Sync()
	return nil
}
