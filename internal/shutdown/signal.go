// Package shutdown provides the process-wide cancellation signal.
//
// A Signal is created once at startup and set by the first OS termination
// signal (or an explicit Trigger). It is never cleared. Long-running work
// observes it through Context, so every blocking call that takes a context
// becomes a cancellable suspend point.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/logging"
)

// stopNotify is signal.Stop; tests replace it.
var stopNotify = signal.Stop

// Signal is an idempotent, set-once shutdown flag.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	reason string
	mu     sync.Mutex
}

// New creates a Signal derived from parent.
func New(parent context.Context) *Signal {
	ctx, cancel := context.WithCancel(parent)
	return &Signal{ctx: ctx, cancel: cancel}
}

// Context returns the context cancelled when the signal is set.
func (s *Signal) Context() context.Context {
	return s.ctx
}

// Done returns a channel closed when the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// IsSet reports whether the signal has been set.
func (s *Signal) IsSet() bool {
	return s.ctx.Err() != nil
}

// Trigger sets the signal. Only the first call has an effect.
func (s *Signal) Trigger(reason string) {
	s.once.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		logging.Info("Shutdown signal received", zap.String("reason", reason))
		s.cancel()
	})
}

// Reason returns what set the signal, or "" if it is not set.
func (s *Signal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Listen triggers the signal on the first of the given OS signals. After
// that the signals get their default behaviour again, so a second Ctrl+C
// during a slow shutdown kills the process. The returned function stops
// listening; it is safe to call more than once.
func (s *Signal) Listen(sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			stopNotify(ch)
			s.Trigger(sig.String())
		case <-s.ctx.Done():
		case <-done:
		}
	}()

	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() {
			stopNotify(ch)
			close(done)
		})
	}
}
