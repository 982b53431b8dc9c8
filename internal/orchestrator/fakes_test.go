package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/messaging"
)

var errBrokerDown = errors.New("broker unavailable")

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Publish(context.Context, string, []byte, bool) error { return nil }
func (c *fakeConn) Subscribe(context.Context, string, messaging.Handler) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeConnector fails the Open calls whose 1-based index is in failCalls.
type fakeConnector struct {
	mu        sync.Mutex
	calls     int
	failCalls map[int]bool
	conns     []*fakeConn
}

func (f *fakeConnector) Open(ctx context.Context) (messaging.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failCalls[f.calls] {
		return nil, errBrokerDown
	}
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

type fakeTask struct {
	done chan struct{}
}

func (t *fakeTask) Done() <-chan struct{} { return t.done }

// fakeRunner records started devices; tasks end when ctx is cancelled.
type fakeRunner struct {
	mu      sync.Mutex
	started map[string]int
	failIPs map[string]bool
	notify  chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		started: make(map[string]int),
		failIPs: make(map[string]bool),
		notify:  make(chan string, 64),
	}
}

func (r *fakeRunner) Start(ctx context.Context, dev discovery.Device, conn messaging.Conn) (Task, error) {
	r.mu.Lock()
	if r.failIPs[dev.IP] {
		r.mu.Unlock()
		return nil, errors.New("task refused to start")
	}
	r.started[dev.IP]++
	r.mu.Unlock()

	t := &fakeTask{done: make(chan struct{})}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
		close(t.done)
	}()

	select {
	case r.notify <- dev.IP:
	default:
	}
	return t, nil
}

func (r *fakeRunner) count(ip string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started[ip]
}

// fakeNetwork is both prober and handshaker for a real discovery.Scanner.
type fakeNetwork struct {
	mu     sync.Mutex
	online map[string]bool
}

func newFakeNetwork(ips ...string) *fakeNetwork {
	n := &fakeNetwork{online: make(map[string]bool)}
	for _, ip := range ips {
		n.online[ip] = true
	}
	return n
}

func (n *fakeNetwork) setOnline(ip string) {
	n.mu.Lock()
	n.online[ip] = true
	n.mu.Unlock()
}

func (n *fakeNetwork) Probe(ctx context.Context, ip string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.online[ip]
}

func (n *fakeNetwork) Handshake(ctx context.Context, ip string) (*discovery.Device, error) {
	return &discovery.Device{ID: "dev-" + ip, IP: ip, Key: "0123456789abcdef"}, nil
}

func devicesOf(ips ...string) <-chan discovery.Device {
	ch := make(chan discovery.Device, len(ips))
	for _, ip := range ips {
		ch <- discovery.Device{ID: "dev-" + ip, IP: ip, Key: "0123456789abcdef"}
	}
	close(ch)
	return ch
}
