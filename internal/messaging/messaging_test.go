package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/greemqtt/greemqtt/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.MessagingConfig
		want    string
		wantErr bool
	}{
		{
			name: "mqtt",
			cfg:  config.MessagingConfig{Backend: config.BackendMQTT, MQTT: config.MQTTConfig{Broker: "localhost"}},
			want: "*messaging.MQTTClient",
		},
		{
			name: "empty backend defaults to mqtt",
			cfg:  config.MessagingConfig{MQTT: config.MQTTConfig{Broker: "localhost"}},
			want: "*messaging.MQTTClient",
		},
		{
			name: "redis",
			cfg:  config.MessagingConfig{Backend: config.BackendRedis, Redis: config.RedisConfig{URL: "redis://localhost:6379/0"}},
			want: "*messaging.RedisClient",
		},
		{
			name:    "unknown backend",
			cfg:     config.MessagingConfig{Backend: "amqp"},
			wantErr: true,
		},
		{
			name:    "mqtt without broker",
			cfg:     config.MessagingConfig{Backend: config.BackendMQTT},
			wantErr: true,
		},
		{
			name:    "bad redis url",
			cfg:     config.MessagingConfig{Backend: config.BackendRedis, Redis: config.RedisConfig{URL: "http://nope"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := typeName(client); got != tt.want {
				t.Errorf("New() type = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(v interface{}) string {
	switch v.(type) {
	case *MQTTClient:
		return "*messaging.MQTTClient"
	case *RedisClient:
		return "*messaging.RedisClient"
	default:
		return "unknown"
	}
}

func TestNewMQTTClient(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.MQTTConfig
		qos        int
		wantBroker string
		wantErr    bool
	}{
		{"bare host", config.MQTTConfig{Broker: "broker.lan", Port: 1884}, 0, "tcp://broker.lan:1884", false},
		{"default port", config.MQTTConfig{Broker: "broker.lan"}, 1, "tcp://broker.lan:1883", false},
		{"websocket url", config.MQTTConfig{Broker: "ws://broker.lan:8080/mqtt"}, 0, "ws://broker.lan:8080/mqtt", false},
		{"tls url", config.MQTTConfig{Broker: "ssl://broker.lan:8883"}, 2, "ssl://broker.lan:8883", false},
		{"bad scheme", config.MQTTConfig{Broker: "http://broker.lan"}, 0, "", true},
		{"bad qos", config.MQTTConfig{Broker: "broker.lan"}, 3, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewMQTTClient(tt.cfg, tt.qos)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMQTTClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got := c.Broker(); got != tt.wantBroker {
				t.Errorf("Broker() = %q, want %q", got, tt.wantBroker)
			}
		})
	}
}

func TestMQTTClientIDsAreUnique(t *testing.T) {
	c, err := NewMQTTClient(config.MQTTConfig{Broker: "localhost", ClientIDPrefix: "test"}, 0)
	if err != nil {
		t.Fatalf("NewMQTTClient() error = %v", err)
	}

	a, b := c.clientID(), c.clientID()
	if a == b {
		t.Errorf("clientID() returned %q twice", a)
	}
	if !strings.HasPrefix(a, "test-") {
		t.Errorf("clientID() = %q, want prefix test-", a)
	}
}

func TestMQTTOpenUnreachableBroker(t *testing.T) {
	c, err := NewMQTTClient(config.MQTTConfig{
		Broker:         "tcp://127.0.0.1:1",
		ConnectTimeout: 500 * time.Millisecond,
	}, 0)
	if err != nil {
		t.Fatalf("NewMQTTClient() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := c.Open(ctx)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Open() succeeded against a closed port")
	}
}

func TestRedisClient(t *testing.T) {
	c, err := NewRedisClient("redis://:secret@cache.lan:6380/2")
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	if got := c.Addr(); got != "cache.lan:6380" {
		t.Errorf("Addr() = %q, want %q", got, "cache.lan:6380")
	}
}

func TestRedisPattern(t *testing.T) {
	tests := []struct {
		topic    string
		want     string
		wildcard bool
	}{
		{"gree/abc/set", "gree/abc/set", false},
		{"gree/+/set", "gree/*/set", true},
		{"gree/#", "gree/*", true},
		{"+/+", "*/*", true},
	}

	for _, tt := range tests {
		got, wildcard := redisPattern(tt.topic)
		if got != tt.want || wildcard != tt.wildcard {
			t.Errorf("redisPattern(%q) = %q, %v, want %q, %v", tt.topic, got, wildcard, tt.want, tt.wildcard)
		}
	}
}

func TestRetainedKey(t *testing.T) {
	if got := retainedKey("gree/abc"); got != "retained:gree/abc" {
		t.Errorf("retainedKey() = %q, want %q", got, "retained:gree/abc")
	}
}

func TestDialWebSocketStream(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{mqttSubprotocol}}
	gotProto := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		gotProto <- ws.Subprotocol()

		// Split one client write into two messages to exercise reassembly.
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		half := len(data) / 2
		_ = ws.WriteMessage(websocket.TextMessage, []byte("ignored"))
		_ = ws.WriteMessage(websocket.BinaryMessage, data[:half])
		_ = ws.WriteMessage(websocket.BinaryMessage, data[half:])
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	u, err := url.Parse("ws" + strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}

	conn, err := DialWebSocket(u, nil, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetDeadline() error = %v", err)
	}

	payload := []byte{0x10, 0x0c, 0x00, 0x04, 'M', 'Q', 'T', 'T'}
	n, err := conn.Write(payload)
	if err != nil || n != len(payload) {
		t.Fatalf("Write() = %d, %v, want %d, nil", n, err, len(payload))
	}

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 3)
	for len(got) < len(payload) {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != string(payload) {
		t.Errorf("Read() = %v, want %v", got, payload)
	}

	select {
	case proto := <-gotProto:
		if proto != mqttSubprotocol {
			t.Errorf("Subprotocol = %q, want %q", proto, mqttSubprotocol)
		}
	case <-time.After(time.Second):
		t.Error("server never saw the connection")
	}
}
