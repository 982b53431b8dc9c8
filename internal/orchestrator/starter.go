package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/logging"
	"github.com/greemqtt/greemqtt/internal/messaging"
)

// ErrAlreadyStarted is returned when a session for the address already runs.
var ErrAlreadyStarted = errors.New("device session already started")

// Connector opens a new messaging connection per device.
type Connector interface {
	Open(ctx context.Context) (messaging.Conn, error)
}

// Task is a handle on a running device task.
type Task interface {
	Done() <-chan struct{}
}

// TaskRunner starts the long-running communication task for a device. On
// success the task owns conn and closes it when it exits.
type TaskRunner interface {
	Start(ctx context.Context, dev discovery.Device, conn messaging.Conn) (Task, error)
}

// Stage names the session bring-up step that failed.
type Stage string

const (
	StageConnect Stage = "connect"
	StageStart   Stage = "start"
)

// SessionError reports a per-device session start failure.
type SessionError struct {
	IP    string
	ID    string
	Stage Stage
	Err   error
}

// Error implements the error interface
func (e *SessionError) Error() string {
	return fmt.Sprintf("device %s (%s): %s failed: %v", e.ID, e.IP, e.Stage, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *SessionError) Unwrap() error {
	return e.Err
}

// Starter brings up one device session: open a connection, drop the address
// from the pending set, start the device task. It is shared by the
// orchestrator and the retry manager and never starts an address twice.
type Starter struct {
	connector Connector
	runner    TaskRunner

	mu      sync.Mutex
	started map[string]string // ip -> device id, includes in-progress starts
	tasks   []Task
}

// NewStarter creates a Starter.
func NewStarter(connector Connector, runner TaskRunner) *Starter {
	return &Starter{
		connector: connector,
		runner:    runner,
		started:   make(map[string]string),
	}
}

// Start brings up a session for dev. The connection is closed on every
// failure path after it was opened. A connection failure leaves the address
// pending; a task start failure does not.
func (s *Starter) Start(ctx context.Context, dev discovery.Device, pending *PendingSet) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !s.reserve(dev) {
		return ErrAlreadyStarted
	}

	var conn messaging.Conn
	defer func() {
		if r := recover(); r != nil {
			err = &SessionError{IP: dev.IP, ID: dev.ID, Stage: StageStart, Err: fmt.Errorf("panic: %v", r)}
		}
		if err == nil {
			return
		}
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				logging.Debug("Failed to close connection after start failure",
					zap.String("ip", dev.IP), zap.Error(cerr))
			}
		}
		s.release(dev.IP)
	}()

	conn, err = s.connector.Open(ctx)
	if err != nil {
		conn = nil
		return &SessionError{IP: dev.IP, ID: dev.ID, Stage: StageConnect, Err: err}
	}

	if pending != nil {
		pending.Remove(dev.IP)
	}

	task, err := s.runner.Start(ctx, dev, conn)
	if err != nil {
		return &SessionError{IP: dev.IP, ID: dev.ID, Stage: StageStart, Err: err}
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()

	logging.LogDeviceEvent(dev.ID, dev.IP, "bridge_started", zap.Bool("gcm", dev.GCM))
	return nil
}

func (s *Starter) reserve(dev discovery.Device) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.started[dev.IP]; ok {
		return false
	}
	s.started[dev.IP] = dev.ID
	return true
}

func (s *Starter) release(ip string) {
	s.mu.Lock()
	delete(s.started, ip)
	s.mu.Unlock()
}

// Started returns the number of running or starting sessions.
func (s *Starter) Started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.started)
}

// Wait blocks until every started task has exited or ctx is done.
func (s *Starter) Wait(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
