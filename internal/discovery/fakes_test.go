package discovery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// fakeNetwork implements Prober and Handshaker over an in-memory set of
// reachable addresses and records how it was called.
type fakeNetwork struct {
	mu         sync.Mutex
	reachable  map[string]bool
	keys       map[string]string // ip -> key returned by handshake ("" = no key)
	failHS     map[string]error
	panicProbe map[string]bool
	delay      time.Duration

	probes     []string
	handshakes []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeNetwork(reachable ...string) *fakeNetwork {
	f := &fakeNetwork{
		reachable:  make(map[string]bool),
		keys:       make(map[string]string),
		failHS:     make(map[string]error),
		panicProbe: make(map[string]bool),
	}
	for _, ip := range reachable {
		f.reachable[ip] = true
		f.keys[ip] = "key-" + ip
	}
	return f
}

func (f *fakeNetwork) Probe(ctx context.Context, ip string) bool {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.probes = append(f.probes, ip)
	panics := f.panicProbe[ip]
	ok := f.reachable[ip]
	f.mu.Unlock()

	if panics {
		panic("probe exploded")
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return false
		}
	}
	return ok
}

func (f *fakeNetwork) Handshake(ctx context.Context, ip string) (*Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handshakes = append(f.handshakes, ip)
	if err := f.failHS[ip]; err != nil {
		return nil, err
	}
	return &Device{ID: "id-" + ip, IP: ip, Key: f.keys[ip]}, nil
}

func (f *fakeNetwork) probeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.probes)
}

func (f *fakeNetwork) handshakeSet() map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	set := make(map[string]bool)
	for _, ip := range f.handshakes {
		set[ip] = true
	}
	return set
}

// memStore is an in-memory Store.
type memStore struct {
	mu      sync.Mutex
	devices map[string]Device
	saveErr error
	listErr error
}

func newMemStore(devices ...Device) *memStore {
	s := &memStore{devices: make(map[string]Device)}
	for _, d := range devices {
		s.devices[d.ID] = d
	}
	return s
}

func (s *memStore) ListKnown(ctx context.Context) ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out, nil
}

func (s *memStore) Save(ctx context.Context, dev Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.devices[dev.ID] = dev
	return nil
}

func (s *memStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[id]
	return ok
}

var errBindRejected = errors.New("bind rejected")

func collect(ch <-chan Device) map[string]Device {
	got := make(map[string]Device)
	for d := range ch {
		got[d.IP] = d
	}
	return got
}
