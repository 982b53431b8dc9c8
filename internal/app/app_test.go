package app

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/greemqtt/greemqtt/internal/bridge"
	"github.com/greemqtt/greemqtt/internal/config"
	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/logging"
	"github.com/greemqtt/greemqtt/internal/messaging"
	"github.com/greemqtt/greemqtt/internal/orchestrator"
	"github.com/greemqtt/greemqtt/internal/shutdown"
)

type fakeConn struct{}

func (fakeConn) Publish(context.Context, string, []byte, bool) error       { return nil }
func (fakeConn) Subscribe(context.Context, string, messaging.Handler) error { return nil }
func (fakeConn) Close() error                                               { return nil }

type fakeConnector struct{}

func (fakeConnector) Open(context.Context) (messaging.Conn, error) { return fakeConn{}, nil }

type fakeTask struct{ done chan struct{} }

func (t *fakeTask) Done() <-chan struct{} { return t.done }

type fakeRunner struct {
	mu      sync.Mutex
	started []string
	notify  chan string
}

func (r *fakeRunner) Start(ctx context.Context, dev discovery.Device, conn messaging.Conn) (orchestrator.Task, error) {
	r.mu.Lock()
	r.started = append(r.started, dev.IP)
	r.mu.Unlock()

	t := &fakeTask{done: make(chan struct{})}
	go func() {
		<-ctx.Done()
		close(t.done)
	}()
	if r.notify != nil {
		r.notify <- dev.IP
	}
	return t, nil
}

type fakeNetwork struct {
	mu     sync.Mutex
	online map[string]bool
	probes int
}

func (n *fakeNetwork) Probe(_ context.Context, ip string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.probes++
	return n.online[ip]
}

func (n *fakeNetwork) Handshake(_ context.Context, ip string) (*discovery.Device, error) {
	return &discovery.Device{ID: "dev-" + ip, IP: ip, Key: "0123456789abcdef"}, nil
}

func (n *fakeNetwork) probeCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.probes
}

type memStore struct {
	mu      sync.Mutex
	devices map[string]discovery.Device
}

func (s *memStore) ListKnown(context.Context) ([]discovery.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []discovery.Device
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, d discovery.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = d
	return nil
}

type staticHints struct {
	addrs []string
	err   error
	panic bool
	calls int
}

func (h *staticHints) Browse(context.Context) ([]string, error) {
	h.calls++
	if h.panic {
		panic("resolver exploded")
	}
	return h.addrs, h.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Scan.ProbeTimeout = time.Second
	cfg.Scan.HandshakeTimeout = time.Second
	cfg.Retry.InitialInterval = time.Hour
	cfg.Retry.MaxInterval = time.Hour
	return cfg
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	logging.SetLogger(zap.New(core))
	t.Cleanup(func() { logging.SetLogger(zap.NewNop()) })
	return logs
}

// runAsync starts Run and returns a channel yielding its result.
func runAsync(a *App, sig *shutdown.Signal) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(sig) }()
	return errCh
}

func waitResult(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run() did not return after shutdown")
	}
}

func TestRunStartsDevicesAndWaitsForShutdown(t *testing.T) {
	cfg := testConfig()
	cfg.Network = []string{"10.0.0.2", "10.0.0.3", "10.0.0.4"}
	cfg.Scan.Concurrency = 2

	network := &fakeNetwork{online: map[string]bool{"10.0.0.2": true, "10.0.0.4": true}}
	runner := &fakeRunner{notify: make(chan string, 4)}
	a := New(cfg, Deps{
		Store:      &memStore{devices: map[string]discovery.Device{}},
		Connector:  fakeConnector{},
		Prober:     network,
		Handshaker: network,
		Runner:     runner,
	})

	sig := shutdown.New(context.Background())
	errCh := runAsync(a, sig)

	for i := 0; i < 2; i++ {
		select {
		case <-runner.notify:
		case <-time.After(2 * time.Second):
			t.Fatal("devices were not started")
		}
	}

	select {
	case err := <-errCh:
		t.Fatalf("Run() returned before shutdown: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	sig.Trigger("test")
	waitResult(t, errCh)

	if a.starter.Started() != 2 {
		t.Errorf("Started() = %d, want 2", a.starter.Started())
	}
}

func TestRunConfigurationErrorKeepsWaiting(t *testing.T) {
	logs := observeLogs(t)

	cfg := testConfig()
	cfg.Subnet = "10.0.0.0/31"

	network := &fakeNetwork{online: map[string]bool{}}
	a := New(cfg, Deps{
		Connector:  fakeConnector{},
		Prober:     network,
		Handshaker: network,
		Runner:     &fakeRunner{},
	})

	sig := shutdown.New(context.Background())
	errCh := runAsync(a, sig)

	select {
	case err := <-errCh:
		t.Fatalf("Run() returned on a configuration error: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	sig.Trigger("test")
	waitResult(t, errCh)

	if network.probeCount() != 0 {
		t.Errorf("%d probes sent, want 0", network.probeCount())
	}
	if logs.FilterMessage("Configuration error").Len() != 1 {
		t.Error("configuration error not logged")
	}
}

func TestRunRecoversFromDiscoveryPanic(t *testing.T) {
	logs := observeLogs(t)

	cfg := testConfig()
	network := &fakeNetwork{online: map[string]bool{}}
	a := New(cfg, Deps{
		Connector:  fakeConnector{},
		Prober:     network,
		Handshaker: network,
		Runner:     &fakeRunner{},
		Hints:      &staticHints{panic: true},
	})

	sig := shutdown.New(context.Background())
	errCh := runAsync(a, sig)
	time.Sleep(20 * time.Millisecond)
	sig.Trigger("test")
	waitResult(t, errCh)

	if logs.FilterMessage("Unhandled error during device discovery, continuing to run").Len() != 1 {
		t.Error("panic not logged")
	}
}

func TestRunShutdownBeforeDiscovery(t *testing.T) {
	cfg := testConfig()
	cfg.Network = []string{"10.0.0.2"}
	network := &fakeNetwork{online: map[string]bool{"10.0.0.2": true}}
	runner := &fakeRunner{}
	a := New(cfg, Deps{
		Connector:  fakeConnector{},
		Prober:     network,
		Handshaker: network,
		Runner:     runner,
	})

	sig := shutdown.New(context.Background())
	sig.Trigger("early")

	waitResult(t, runAsync(a, sig))

	if network.probeCount() != 0 {
		t.Errorf("%d probes after shutdown, want 0", network.probeCount())
	}
	if len(runner.started) != 0 {
		t.Errorf("started %v after shutdown, want none", runner.started)
	}
}

func TestTargetsUsesHintsOnlyForSubnetScans(t *testing.T) {
	known := []discovery.Device{{ID: "k", IP: "10.0.0.2"}}

	t.Run("subnet", func(t *testing.T) {
		cfg := testConfig()
		cfg.Subnet = "10.0.0.0/29"
		hints := &staticHints{addrs: []string{"10.0.0.5"}}
		a := New(cfg, Deps{Hints: hints})

		got, err := a.Targets(context.Background(), known)
		if err != nil {
			t.Fatalf("Targets() error = %v", err)
		}
		want := []string{"10.0.0.2", "10.0.0.5", "10.0.0.1", "10.0.0.3", "10.0.0.4", "10.0.0.6"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Targets() = %v, want %v", got, want)
		}
	})

	t.Run("explicit network", func(t *testing.T) {
		cfg := testConfig()
		cfg.Network = []string{"10.0.0.7"}
		hints := &staticHints{addrs: []string{"10.0.0.5"}}
		a := New(cfg, Deps{Hints: hints})

		got, err := a.Targets(context.Background(), known)
		if err != nil {
			t.Fatalf("Targets() error = %v", err)
		}
		if !reflect.DeepEqual(got, []string{"10.0.0.7"}) {
			t.Errorf("Targets() = %v, want [10.0.0.7]", got)
		}
		if hints.calls != 0 {
			t.Errorf("hints browsed %d times, want 0", hints.calls)
		}
	})

	t.Run("hint failure falls back to subnet", func(t *testing.T) {
		cfg := testConfig()
		cfg.Subnet = "10.0.0.0/30"
		a := New(cfg, Deps{Hints: &staticHints{err: errors.New("no multicast")}})

		got, err := a.Targets(context.Background(), nil)
		if err != nil {
			t.Fatalf("Targets() error = %v", err)
		}
		if !reflect.DeepEqual(got, []string{"10.0.0.1", "10.0.0.2"}) {
			t.Errorf("Targets() = %v, want [10.0.0.1 10.0.0.2]", got)
		}
	})
}

func TestScanPersistsNewDevices(t *testing.T) {
	cfg := testConfig()
	cfg.Network = []string{"10.0.0.2", "10.0.0.3"}

	db := &memStore{devices: map[string]discovery.Device{}}
	network := &fakeNetwork{online: map[string]bool{"10.0.0.3": true}}
	a := New(cfg, Deps{Store: db, Prober: network, Handshaker: network})

	found, err := a.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(found) != 1 || found[0].IP != "10.0.0.3" {
		t.Fatalf("Scan() = %v, want one device at 10.0.0.3", found)
	}
	if _, ok := db.devices["dev-10.0.0.3"]; !ok {
		t.Error("device not persisted after Scan()")
	}
}

func TestTaskRunnerReturnsNilInterfaceOnError(t *testing.T) {
	r := taskRunner{bridge.NewRunner(nil, bridge.Options{})}

	task, err := r.Start(context.Background(), discovery.Device{ID: "a", IP: "10.0.0.2", Key: "k"}, nil)
	if err == nil {
		t.Fatal("Start() with nil connection succeeded")
	}
	if task != nil {
		t.Errorf("Start() task = %#v, want nil interface", task)
	}
}

func TestBuild(t *testing.T) {
	cfg := testConfig()
	cfg.Storage.Path = ":memory:"
	cfg.Scan.MDNSService = "_gree._udp"

	a, closeFn, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer closeFn()

	if a.hints == nil {
		t.Error("mDNS hints not wired when a service is configured")
	}

	cfg.Messaging.Backend = "carrier-pigeon"
	if _, _, err := Build(cfg); err == nil {
		t.Error("Build() with unknown backend succeeded")
	}
}
