package discovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/greemqtt/greemqtt/internal/logging"
)

const (
	// DefaultConcurrency caps simultaneously in-flight probes and handshakes
	DefaultConcurrency = 20

	// DefaultProbeTimeout bounds a single liveness probe
	DefaultProbeTimeout = 2 * time.Second

	// DefaultHandshakeTimeout bounds a single bind handshake
	DefaultHandshakeTimeout = 5 * time.Second

	// saveTimeout bounds an asynchronous store write
	saveTimeout = 5 * time.Second

	// progressEvery controls how often scan progress is logged
	progressEvery = 20
)

// Prober checks whether a device answers at an address. Implementations
// return false for network-level failures instead of an error.
type Prober interface {
	Probe(ctx context.Context, ip string) bool
}

// Handshaker performs the key exchange with a reachable device. A nil device
// or one without key material means "no usable device".
type Handshaker interface {
	Handshake(ctx context.Context, ip string) (*Device, error)
}

// Store persists known device records.
type Store interface {
	ListKnown(ctx context.Context) ([]Device, error)
	Save(ctx context.Context, dev Device) error
}

// Outcome is the result of resolving a single address. Device is nil when
// nothing usable answered; Err is set when the attempt failed.
type Outcome struct {
	IP     string
	Device *Device
	Reused bool // Device came from a known record without a handshake
	Err    error
}

// Scanner fans probes out over a target set under a concurrency cap and
// streams discovered devices in completion order.
type Scanner struct {
	prober     Prober
	handshaker Handshaker
	store      Store

	// Concurrency is the maximum number of addresses resolved at once
	Concurrency int

	// ProbeTimeout bounds each probe
	ProbeTimeout time.Duration

	// HandshakeTimeout bounds each handshake
	HandshakeTimeout time.Duration

	saves     sync.WaitGroup
	savesMu   sync.Mutex
	savesDone bool
}

// NewScanner creates a scanner with default limits. store may be nil, in
// which case new devices are not persisted.
func NewScanner(prober Prober, handshaker Handshaker, store Store) *Scanner {
	return &Scanner{
		prober:           prober,
		handshaker:       handshaker,
		store:            store,
		Concurrency:      DefaultConcurrency,
		ProbeTimeout:     DefaultProbeTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// Scan resolves every address and returns a channel of discovered devices.
// The channel yields devices as they complete, not in input order, and is
// closed once every address has resolved or ctx is cancelled. Per-address
// failures never surface here; they are logged and yield nothing.
//
// An empty address set fails fast with ErrNoTargets.
func (s *Scanner) Scan(ctx context.Context, addrs []string, known []Device) (<-chan Device, error) {
	if len(addrs) == 0 {
		return nil, noTargets("scan called with an empty address set")
	}

	limit := s.Concurrency
	if limit < 1 {
		limit = DefaultConcurrency
	}

	knownByIP := indexByIP(known)
	out := make(chan Device, limit)

	logging.Info("Scanning for devices",
		zap.Int("targets", len(addrs)),
		zap.Int("known", len(knownByIP)),
		zap.Int("concurrency", limit),
	)

	go func() {
		defer close(out)

		// A fresh gate per scan so retry passes never share slots with the
		// initial scan.
		gate := semaphore.NewWeighted(int64(limit))
		var wg sync.WaitGroup
		var resolved atomic.Int64

		for _, ip := range addrs {
			if err := gate.Acquire(ctx, 1); err != nil {
				logging.Info("Scan cancelled, not starting remaining probes",
					zap.Int64("resolved", resolved.Load()),
					zap.Int("targets", len(addrs)),
				)
				break
			}

			wg.Add(1)
			go func(ip string) {
				defer wg.Done()
				defer gate.Release(1)

				outcome := s.Resolve(ctx, ip, knownByIP)

				if n := resolved.Add(1); n%progressEvery == 0 {
					logging.Info("Scanned IPs", zap.Int64("scanned", n), zap.Int("targets", len(addrs)))
				}

				if outcome.Device == nil {
					return
				}
				logging.Info("Device found",
					zap.String("ip", outcome.Device.IP),
					zap.String("device_id", outcome.Device.ID),
					zap.Bool("known", outcome.Reused),
				)
				select {
				case out <- *outcome.Device:
				case <-ctx.Done():
				}
			}(ip)
		}

		wg.Wait()
	}()

	return out, nil
}

// Resolve runs the single-address path: probe, then reuse a known record or
// perform a handshake. Failures are logged and reported in the Outcome;
// Resolve itself never panics on a misbehaving collaborator.
func (s *Scanner) Resolve(ctx context.Context, ip string, known map[string]Device) (outcome Outcome) {
	outcome.IP = ip

	defer func() {
		if r := recover(); r != nil {
			outcome = Outcome{IP: ip, Err: fmt.Errorf("panic while scanning %s: %v", ip, r)}
			logging.Error("Error scanning IP", zap.String("ip", ip), zap.Error(outcome.Err))
		}
	}()

	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}

	if !s.probe(ctx, ip) {
		logging.Debug("No response", zap.String("ip", ip))
		return outcome
	}

	if dev, ok := known[ip]; ok {
		outcome.Device = &dev
		outcome.Reused = true
		return outcome
	}

	if err := ctx.Err(); err != nil {
		outcome.Err = err
		return outcome
	}

	hsCtx, cancel := context.WithTimeout(ctx, s.handshakeTimeout())
	dev, err := s.handshaker.Handshake(hsCtx, ip)
	cancel()
	if err != nil {
		outcome.Err = fmt.Errorf("handshake with %s: %w", ip, err)
		logging.Warn("Handshake failed", zap.String("ip", ip), zap.Error(err))
		return outcome
	}

	if dev == nil || !dev.HasKey() {
		logging.Warn("Device not found or invalid key", zap.String("ip", ip))
		return outcome
	}

	if dev.IP == "" {
		dev.IP = ip
	}
	if dev.DiscoveredAt.IsZero() {
		dev.DiscoveredAt = time.Now()
	}

	s.persist(*dev)
	logging.LogDiscovery(ip, "new_device", zap.String("device_id", dev.ID), zap.Bool("gcm", dev.GCM))

	outcome.Device = dev
	return outcome
}

func (s *Scanner) probe(ctx context.Context, ip string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout())
	defer cancel()
	return s.prober.Probe(probeCtx, ip)
}

// persist saves a newly discovered device without blocking the scan.
func (s *Scanner) persist(dev Device) {
	if s.store == nil {
		return
	}

	s.savesMu.Lock()
	if s.savesDone {
		s.savesMu.Unlock()
		logging.Warn("Scanner closed, device not saved",
			zap.String("device_id", dev.ID), zap.String("ip", dev.IP))
		return
	}
	s.saves.Add(1)
	s.savesMu.Unlock()

	go func() {
		defer s.saves.Done()

		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()

		if err := s.store.Save(ctx, dev); err != nil {
			logging.Error("Failed to save device",
				zap.String("device_id", dev.ID),
				zap.String("ip", dev.IP),
				zap.Error(err),
			)
		}
	}()
}

// Flush waits for pending asynchronous store writes. It must not race with
// a running Scan; use Close when other goroutines may still be scanning.
func (s *Scanner) Flush() {
	s.saves.Wait()
}

// Close stops accepting store writes and waits for the pending ones. Devices
// resolved afterwards are still reported but no longer saved.
func (s *Scanner) Close() {
	s.savesMu.Lock()
	s.savesDone = true
	s.savesMu.Unlock()
	s.saves.Wait()
}

// KnownDevices loads known records from the store, logging and returning nil
// on failure so discovery can proceed without them.
func (s *Scanner) KnownDevices(ctx context.Context) []Device {
	if s.store == nil {
		return nil
	}
	known, err := s.store.ListKnown(ctx)
	if err != nil {
		logging.Warn("Failed to load known devices", zap.Error(err))
		return nil
	}
	return known
}

func (s *Scanner) probeTimeout() time.Duration {
	if s.ProbeTimeout > 0 {
		return s.ProbeTimeout
	}
	return DefaultProbeTimeout
}

func (s *Scanner) handshakeTimeout() time.Duration {
	if s.HandshakeTimeout > 0 {
		return s.HandshakeTimeout
	}
	return DefaultHandshakeTimeout
}
