package messaging

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/config"
	"github.com/greemqtt/greemqtt/internal/logging"
)

const (
	// disconnectQuiesce is how long Close lets in-flight work finish (ms)
	disconnectQuiesce = 250

	defaultConnectTimeout = 10 * time.Second
)

// MQTTClient opens one MQTT session per device.
type MQTTClient struct {
	broker   *url.URL
	username string
	password string
	prefix   string
	qos      byte
	timeout  time.Duration
}

// NewMQTTClient validates the broker configuration.
func NewMQTTClient(cfg config.MQTTConfig, qos int) (*MQTTClient, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if qos < 0 || qos > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", qos)
	}

	u, err := url.Parse(cfg.BrokerURL())
	if err != nil {
		return nil, fmt.Errorf("invalid mqtt broker %q: %w", cfg.Broker, err)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported mqtt broker scheme %q", u.Scheme)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	prefix := cfg.ClientIDPrefix
	if prefix == "" {
		prefix = "greemqtt"
	}

	return &MQTTClient{
		broker:   u,
		username: cfg.Username,
		password: cfg.Password,
		prefix:   prefix,
		qos:      byte(qos),
		timeout:  timeout,
	}, nil
}

// Broker returns the broker URL sessions connect to.
func (c *MQTTClient) Broker() string {
	return c.broker.String()
}

// clientID returns a unique client id; brokers drop an older session that
// reuses an id, so every device session gets its own.
func (c *MQTTClient) clientID() string {
	return c.prefix + "-" + uuid.NewString()
}

func (c *MQTTClient) options() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(c.broker.String()).
		SetClientID(c.clientID()).
		SetAutoReconnect(true).
		SetConnectTimeout(c.timeout).
		SetCleanSession(true)

	if c.username != "" {
		opts.SetUsername(c.username)
		opts.SetPassword(c.password)
	}

	if c.broker.Scheme == "ws" || c.broker.Scheme == "wss" {
		timeout := c.timeout
		opts.SetCustomOpenConnectionFn(func(uri *url.URL, o mqtt.ClientOptions) (net.Conn, error) {
			return DialWebSocket(uri, o.TLSConfig, o.HTTPHeaders, timeout)
		})
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warn("MQTT connection lost, reconnecting",
			zap.String("broker", c.broker.Redacted()),
			zap.Error(err),
		)
	})

	return opts
}

// Open connects a new session to the broker.
func (c *MQTTClient) Open(ctx context.Context) (Conn, error) {
	opts := c.options()
	client := mqtt.NewClient(opts)

	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to mqtt broker %s: %w", c.broker.Redacted(), err)
	}

	logging.Debug("MQTT session connected",
		zap.String("broker", c.broker.Redacted()),
		zap.String("client_id", opts.ClientID),
	)

	return &mqttConn{client: client, qos: c.qos}, nil
}

type mqttConn struct {
	client mqtt.Client
	qos    byte

	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func (c *mqttConn) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	if err := waitToken(ctx, c.client.Publish(topic, c.qos, retain, payload)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *mqttConn) Subscribe(ctx context.Context, topic string, handler Handler) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	tok := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	if err := waitToken(ctx, tok); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *mqttConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.client.Disconnect(disconnectQuiesce)
	})
	return nil
}

// waitToken waits for an MQTT operation or ctx, whichever finishes first.
func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
