package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/logging"
)

const (
	// retainedPrefix namespaces keys holding the last retained payload per topic
	retainedPrefix = "retained:"

	redisPingTimeout = 5 * time.Second
)

// RedisClient uses Redis pub/sub as the messaging backend. Retained messages
// are emulated by storing the last payload under a key per topic.
type RedisClient struct {
	url  string
	opts *redis.Options
}

// NewRedisClient parses a redis:// or rediss:// URL.
func NewRedisClient(rawURL string) (*RedisClient, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL %s: %w", rawURL, err)
	}
	return &RedisClient{url: rawURL, opts: opts}, nil
}

// Addr returns the Redis server address.
func (c *RedisClient) Addr() string {
	return c.opts.Addr
}

// Open creates a client and checks connectivity.
func (c *RedisClient) Open(ctx context.Context) (Conn, error) {
	opts := *c.opts
	client := redis.NewClient(&opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	return &redisConn{client: client}, nil
}

type redisConn struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
	wg     sync.WaitGroup
}

func (c *redisConn) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	if c.isClosed() {
		return ErrClosed
	}
	if retain {
		if err := c.client.Set(ctx, retainedKey(topic), payload, 0).Err(); err != nil {
			return fmt.Errorf("store retained %s: %w", topic, err)
		}
	}
	if err := c.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe accepts MQTT-style topic filters; '+' and '#' become glob
// patterns. A retained payload for an exact topic is delivered first.
func (c *redisConn) Subscribe(ctx context.Context, topic string, handler Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	var pubsub *redis.PubSub
	if pattern, ok := redisPattern(topic); ok {
		pubsub = c.client.PSubscribe(ctx, pattern)
	} else {
		pubsub = c.client.Subscribe(ctx, topic)
	}

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = pubsub.Close()
		return ErrClosed
	}
	c.subs = append(c.subs, pubsub)
	c.wg.Add(1)
	c.mu.Unlock()

	if _, wildcard := redisPattern(topic); !wildcard {
		payload, err := c.client.Get(ctx, retainedKey(topic)).Bytes()
		switch {
		case err == nil:
			handler(topic, payload)
		case !errors.Is(err, redis.Nil):
			logging.Debug("Failed to read retained message", zap.String("topic", topic), zap.Error(err))
		}
	}

	go func() {
		defer c.wg.Done()
		for msg := range pubsub.Channel() {
			handler(msg.Channel, []byte(msg.Payload))
		}
	}()

	return nil
}

func (c *redisConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, s := range subs {
		_ = s.Close() // Error intentionally ignored in cleanup
	}
	c.wg.Wait()
	return c.client.Close()
}

func (c *redisConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func retainedKey(topic string) string {
	return retainedPrefix + topic
}

// redisPattern converts an MQTT topic filter to a Redis glob pattern. It
// reports false when the filter has no wildcards.
func redisPattern(topic string) (string, bool) {
	if !strings.ContainsAny(topic, "+#") {
		return topic, false
	}
	levels := strings.Split(topic, "/")
	for i, l := range levels {
		if l == "+" || l == "#" {
			levels[i] = "*"
		}
	}
	return strings.Join(levels, "/"), true
}
