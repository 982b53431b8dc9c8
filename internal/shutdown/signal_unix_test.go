//go:build unix

package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"
)

func TestSignal_Listen(t *testing.T) {
	s := New(context.Background())
	stop := s.Listen(syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not set by SIGUSR1")
	}
	if s.Reason() != syscall.SIGUSR1.String() {
		t.Errorf("Reason() = %v, want %v", s.Reason(), syscall.SIGUSR1.String())
	}
}

func TestSignal_StopTwice(t *testing.T) {
	s := New(context.Background())
	stop := s.Listen(syscall.SIGUSR2)
	stop()
	stop()
	if s.IsSet() {
		t.Error("stopping the listener should not set the signal")
	}
}

func TestSignal_ListenReleasesSignalsAfterFirst(t *testing.T) {
	released := make(chan chan<- os.Signal, 2)
	stopNotify = func(c chan<- os.Signal) {
		signal.Stop(c)
		released <- c
	}
	t.Cleanup(func() { stopNotify = signal.Stop })

	s := New(context.Background())
	stop := s.Listen(syscall.SIGUSR1)
	defer stop()

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("Kill() error = %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("signal was not set by SIGUSR1")
	}

	select {
	case <-released:
	default:
		t.Error("signal handler still registered after the first signal")
	}
}
