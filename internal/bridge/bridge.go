package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/logging"
	"github.com/greemqtt/greemqtt/internal/messaging"
)

const (
	// DefaultUpdateInterval is how often device state is polled
	DefaultUpdateInterval = 3 * time.Second

	// commandBuffer bounds commands queued while a poll is running
	commandBuffer = 8

	// offlineTimeout bounds the last availability publish on exit
	offlineTimeout = 2 * time.Second

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// DeviceClient reads and writes device properties.
type DeviceClient interface {
	Status(ctx context.Context, dev discovery.Device, cols []string) (map[string]interface{}, error)
	Set(ctx context.Context, dev discovery.Device, params map[string]interface{}) error
}

// Options configures the per-device task.
type Options struct {
	Topic          string        // Topic prefix, e.g. "gree"
	Retain         bool          // Publish state as retained
	UpdateInterval time.Duration // Poll period
	Columns        []string      // Properties to poll; nil means the client's default
}

// StateTopic is where a device's state is published.
func StateTopic(prefix, id string) string {
	return prefix + "/" + id
}

// SetTopic is where commands for a device are received.
func SetTopic(prefix, id string) string {
	return prefix + "/" + id + "/set"
}

// AvailabilityTopic carries "online" / "offline" for a device.
func AvailabilityTopic(prefix, id string) string {
	return prefix + "/" + id + "/availability"
}

// Runner starts bridge tasks.
type Runner struct {
	client DeviceClient
	opts   Options
}

// NewRunner creates a Runner.
func NewRunner(client DeviceClient, opts Options) *Runner {
	if opts.UpdateInterval <= 0 {
		opts.UpdateInterval = DefaultUpdateInterval
	}
	if opts.Topic == "" {
		opts.Topic = "gree"
	}
	return &Runner{client: client, opts: opts}
}

// Start subscribes to the device's command topic and starts polling in the
// background. On success the task owns conn. On error conn is left to the
// caller.
func (r *Runner) Start(ctx context.Context, dev discovery.Device, conn messaging.Conn) (*Task, error) {
	if conn == nil {
		return nil, errors.New("bridge requires a messaging connection")
	}
	if dev.ID == "" || !dev.HasKey() {
		return nil, fmt.Errorf("device %s has no id or key", dev.IP)
	}

	t := &Task{
		dev:      dev,
		conn:     conn,
		client:   r.client,
		opts:     r.opts,
		commands: make(chan map[string]interface{}, commandBuffer),
		done:     make(chan struct{}),
	}

	if err := conn.Subscribe(ctx, SetTopic(r.opts.Topic, dev.ID), t.onCommand); err != nil {
		return nil, fmt.Errorf("subscribe to commands: %w", err)
	}

	go t.run(ctx)
	return t, nil
}

// Task bridges one device to its messaging connection until ctx is done.
type Task struct {
	dev    discovery.Device
	conn   messaging.Conn
	client DeviceClient
	opts   Options

	commands chan map[string]interface{}
	done     chan struct{}

	polls     atomic.Int64
	published atomic.Int64
}

// Done is closed when the task has exited and its connection is closed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Device returns the bridged device.
func (t *Task) Device() discovery.Device {
	return t.dev
}

// Published returns the number of state messages published.
func (t *Task) Published() int64 {
	return t.published.Load()
}

// onCommand runs on the messaging client's delivery goroutine and must not
// block.
func (t *Task) onCommand(topic string, payload []byte) {
	var params map[string]interface{}
	if err := json.Unmarshal(payload, &params); err != nil {
		logging.Warn("Ignoring malformed command",
			zap.String("device_id", t.dev.ID),
			zap.String("topic", topic),
			zap.Error(err),
		)
		return
	}
	if len(params) == 0 {
		return
	}

	select {
	case t.commands <- params:
	default:
		logging.Warn("Command queue full, dropping command",
			zap.String("device_id", t.dev.ID),
			zap.Any("params", params),
		)
	}
}

func (t *Task) run(ctx context.Context) {
	defer close(t.done)
	defer func() {
		if err := t.conn.Close(); err != nil {
			logging.Debug("Failed to close device connection", zap.String("device_id", t.dev.ID), zap.Error(err))
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Bridge task crashed",
				zap.String("device_id", t.dev.ID),
				zap.String("ip", t.dev.IP),
				zap.Any("panic", r),
			)
		}
	}()
	defer t.publishAvailability(payloadOffline)

	t.publishAvailability(payloadOnline)
	t.poll(ctx)

	ticker := time.NewTicker(t.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.LogDeviceEvent(t.dev.ID, t.dev.IP, "bridge_stopped")
			return
		case params := <-t.commands:
			t.apply(ctx, params)
			t.poll(ctx)
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

func (t *Task) apply(ctx context.Context, params map[string]interface{}) {
	if err := t.client.Set(ctx, t.dev, params); err != nil {
		logging.Warn("Failed to set device parameters",
			zap.String("device_id", t.dev.ID),
			zap.Any("params", params),
			zap.Error(err),
		)
		return
	}
	logging.LogDeviceEvent(t.dev.ID, t.dev.IP, "command_applied", zap.Any("params", params))
}

func (t *Task) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	t.polls.Add(1)

	state, err := t.client.Status(ctx, t.dev, t.opts.Columns)
	if err != nil {
		if ctx.Err() == nil {
			logging.Warn("Failed to read device status",
				zap.String("device_id", t.dev.ID),
				zap.String("ip", t.dev.IP),
				zap.Error(err),
			)
		}
		return
	}

	payload, err := json.Marshal(state)
	if err != nil {
		logging.Warn("Failed to encode device status", zap.String("device_id", t.dev.ID), zap.Error(err))
		return
	}

	if err := t.conn.Publish(ctx, StateTopic(t.opts.Topic, t.dev.ID), payload, t.opts.Retain); err != nil {
		if ctx.Err() == nil {
			logging.Warn("Failed to publish device status", zap.String("device_id", t.dev.ID), zap.Error(err))
		}
		return
	}
	t.published.Add(1)
}

// publishAvailability uses its own short deadline so the offline message is
// still sent after ctx is cancelled.
func (t *Task) publishAvailability(status string) {
	ctx, cancel := context.WithTimeout(context.Background(), offlineTimeout)
	defer cancel()

	if err := t.conn.Publish(ctx, AvailabilityTopic(t.opts.Topic, t.dev.ID), []byte(status), true); err != nil {
		logging.Debug("Failed to publish availability",
			zap.String("device_id", t.dev.ID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
