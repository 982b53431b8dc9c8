package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/logging"
)

// DeviceScanner is the part of discovery.Scanner the retry manager needs.
type DeviceScanner interface {
	Scan(ctx context.Context, addrs []string, known []discovery.Device) (<-chan discovery.Device, error)
	KnownDevices(ctx context.Context) []discovery.Device
}

// RetryConfig controls the wait between retry passes.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default retry cadence: 30s doubling up to
// 10 minutes with 20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     30 * time.Second,
		MaxInterval:         10 * time.Minute,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

// RetryManager periodically re-probes expected devices that were not found
// and starts sessions for those that appear. It never gives up on its own;
// it stops on shutdown or when nothing is pending.
type RetryManager struct {
	scanner DeviceScanner
	starter *Starter
	pending *PendingSet
	backoff *backoff.ExponentialBackOff

	passes atomic.Int64
}

// NewRetryManager validates its collaborators and creates a RetryManager.
func NewRetryManager(scanner DeviceScanner, starter *Starter, pending *PendingSet, cfg RetryConfig) (*RetryManager, error) {
	if scanner == nil || starter == nil || pending == nil {
		return nil, errors.New("retry manager requires a scanner, a starter and a pending set")
	}
	if cfg.InitialInterval <= 0 || cfg.MaxInterval < cfg.InitialInterval {
		return nil, fmt.Errorf("invalid retry intervals: initial=%s max=%s", cfg.InitialInterval, cfg.MaxInterval)
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.InitialInterval,
		MaxInterval:         cfg.MaxInterval,
		Multiplier:          cfg.Multiplier,
		RandomizationFactor: cfg.RandomizationFactor,
	}
	b.Reset()

	return &RetryManager{
		scanner: scanner,
		starter: starter,
		pending: pending,
		backoff: b,
	}, nil
}

// Run loops until ctx is cancelled or the pending set is empty. It waits
// before each pass and never returns an error.
func (r *RetryManager) Run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error("Retry manager crashed, missing devices will not be retried",
				zap.Any("panic", rec))
		}
	}()

	logging.Info("Retry manager started", zap.Strings("pending", r.pending.List()))

	for {
		if ctx.Err() != nil {
			logging.Info("Retry manager stopped by shutdown", zap.Strings("pending", r.pending.List()))
			return
		}
		if r.pending.Len() == 0 {
			logging.Info("All expected devices found, retry manager exiting")
			return
		}

		wait := r.backoff.NextBackOff()
		logging.Debug("Waiting before next retry pass", zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Info("Retry manager stopped by shutdown", zap.Strings("pending", r.pending.List()))
			return
		case <-timer.C:
		}

		if started := r.Pass(ctx); started > 0 {
			r.backoff.Reset()
		}
	}
}

// Pass re-probes every pending address once and starts sessions for devices
// that answered. It returns the number of sessions started.
func (r *RetryManager) Pass(ctx context.Context) int {
	n := r.passes.Add(1)
	addrs := r.pending.List()
	if len(addrs) == 0 || ctx.Err() != nil {
		return 0
	}

	logging.Info("Retrying missing devices", zap.Int64("pass", n), zap.Strings("addresses", addrs))

	known := r.scanner.KnownDevices(ctx)
	devices, err := r.scanner.Scan(ctx, addrs, known)
	if err != nil {
		logging.Warn("Retry pass failed to start", zap.Int64("pass", n), zap.Error(err))
		return 0
	}

	started := 0
	for dev := range devices {
		if !r.pending.Contains(dev.IP) {
			continue
		}
		if err := r.starter.Start(ctx, dev, r.pending); err != nil {
			logging.Warn("Failed to start retried device",
				zap.String("ip", dev.IP),
				zap.String("id", dev.ID),
				zap.Error(err),
			)
			continue
		}
		started++
	}

	logging.Info("Retry pass complete",
		zap.Int64("pass", n),
		zap.Int("started", started),
		zap.Int("still_pending", r.pending.Len()),
	)
	return started
}

// Passes returns the number of passes run so far.
func (r *RetryManager) Passes() int64 {
	return r.passes.Load()
}
