package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/logging"
)

// Failure records a device whose session could not be started.
type Failure struct {
	IP  string
	ID  string
	Err error
}

// MarshalLogObject implements zapcore.ObjectMarshaler
func (f Failure) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("ip", f.IP)
	enc.AddString("id", f.ID)
	if f.Err != nil {
		enc.AddString("error", f.Err.Error())
	}
	return nil
}

// Failures is a list of Failure that logs as an array.
type Failures []Failure

// MarshalLogArray implements zapcore.ArrayMarshaler
func (fs Failures) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, f := range fs {
		if err := enc.AppendObject(f); err != nil {
			return err
		}
	}
	return nil
}

// Summary is the outcome of one orchestration pass.
type Summary struct {
	Succeeded int
	Failed    Failures
	Missing   []string // Expected addresses never found
}

// Err combines all failures into one error, or nil when none failed.
func (s Summary) Err() error {
	var err error
	for _, f := range s.Failed {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.IP, f.Err))
	}
	return err
}

// RetryFactory builds the retry manager for the residue of the pending set.
type RetryFactory func(pending *PendingSet) (*RetryManager, error)

// Orchestrator consumes a discovery stream and starts a session per device.
type Orchestrator struct {
	starter  *Starter
	newRetry RetryFactory

	background sync.WaitGroup
}

// New creates an Orchestrator. newRetry may be nil to disable retries.
func New(starter *Starter, newRetry RetryFactory) *Orchestrator {
	return &Orchestrator{
		starter:  starter,
		newRetry: newRetry,
	}
}

// Run consumes devices until the stream is exhausted or ctx is cancelled.
// One device failing never stops the others. Expected addresses left in
// pending afterwards are handed to a background retry manager which Run does
// not wait for (see Wait).
func (o *Orchestrator) Run(ctx context.Context, devices <-chan discovery.Device, pending *PendingSet) Summary {
	if pending == nil {
		pending = NewPendingSet(nil)
	}

	var summary Summary

consume:
	for {
		select {
		case <-ctx.Done():
			logging.Info("Shutdown during device setup, stopping", zap.Int("started", summary.Succeeded))
			break consume
		case dev, ok := <-devices:
			if !ok {
				break consume
			}
			o.setup(ctx, dev, pending, &summary)
		}
	}

	summary.Missing = pending.List()
	if len(summary.Missing) > 0 && ctx.Err() == nil {
		logging.Warn("Some devices were not found in the network",
			zap.Strings("missing_devices", summary.Missing))
		o.startRetry(ctx, pending)
	}

	logging.Info("Device setup completed",
		zap.Int("successful", summary.Succeeded),
		zap.Int("failed", len(summary.Failed)),
		zap.Array("failed_devices", summary.Failed),
	)
	if summary.Succeeded == 0 && len(summary.Failed) > 0 {
		logging.Warn("No devices were successfully setup, but application will continue running")
	}

	return summary
}

func (o *Orchestrator) setup(ctx context.Context, dev discovery.Device, pending *PendingSet, summary *Summary) {
	err := o.starter.Start(ctx, dev, pending)
	switch {
	case err == nil:
		summary.Succeeded++
	case errors.Is(err, ErrAlreadyStarted):
		logging.Warn("Device already running, ignoring duplicate",
			zap.String("ip", dev.IP), zap.String("id", dev.ID))
	case ctx.Err() != nil:
		logging.Info("Device setup interrupted by shutdown", zap.String("ip", dev.IP))
	default:
		logging.Error("Failed to setup device, but continuing with others",
			zap.String("ip", dev.IP),
			zap.String("id", dev.ID),
			zap.Error(err),
		)
		summary.Failed = append(summary.Failed, Failure{IP: dev.IP, ID: dev.ID, Err: err})
	}
}

func (o *Orchestrator) startRetry(ctx context.Context, pending *PendingSet) {
	if o.newRetry == nil {
		return
	}

	rm, err := o.newRetry(pending)
	if err != nil {
		logging.Error("Failed to start retry manager, but continuing", zap.Error(err))
		return
	}

	o.background.Add(1)
	go func() {
		defer o.background.Done()
		rm.Run(ctx)
	}()
}

// Wait blocks until background work started by Run (the retry manager) exits.
func (o *Orchestrator) Wait() {
	o.background.Wait()
}
