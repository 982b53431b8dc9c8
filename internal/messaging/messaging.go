package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/greemqtt/greemqtt/internal/config"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("messaging connection closed")

// Handler receives messages delivered to a subscription.
type Handler func(topic string, payload []byte)

// Conn is one session with the messaging system. Every Conn returned by
// Client.Open must be closed exactly once by its owner.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Client opens connections to a messaging backend.
type Client interface {
	Open(ctx context.Context) (Conn, error)
}

// New creates the client for the configured backend.
func New(cfg config.MessagingConfig) (Client, error) {
	switch cfg.Backend {
	case config.BackendMQTT, "":
		return NewMQTTClient(cfg.MQTT, cfg.QoS)
	case config.BackendRedis:
		return NewRedisClient(cfg.Redis.URL)
	default:
		return nil, fmt.Errorf("unknown messaging backend %q", cfg.Backend)
	}
}
