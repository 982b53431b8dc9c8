package orchestrator

import "sync"

// PendingSet holds addresses that are expected but not yet matched to a
// started device. It is owned by the orchestrator during the initial pass and
// by the retry manager afterwards; the mutex only makes concurrent reads
// (status logging, tests) safe.
type PendingSet struct {
	mu    sync.Mutex
	addrs map[string]struct{}
	order []string
}

// NewPendingSet creates a set from addrs, keeping first-seen order.
func NewPendingSet(addrs []string) *PendingSet {
	p := &PendingSet{addrs: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		p.Add(a)
	}
	return p
}

// Add inserts an address. Adding an existing address is a no-op.
func (p *PendingSet) Add(ip string) {
	if ip == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.addrs[ip]; ok {
		return
	}
	p.addrs[ip] = struct{}{}
	p.order = append(p.order, ip)
}

// Remove deletes an address and reports whether it was present.
func (p *PendingSet) Remove(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.addrs[ip]; !ok {
		return false
	}
	delete(p.addrs, ip)
	for i, a := range p.order {
		if a == ip {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether ip is still pending.
func (p *PendingSet) Contains(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.addrs[ip]
	return ok
}

// Len returns the number of pending addresses.
func (p *PendingSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.addrs)
}

// List returns a snapshot of the pending addresses in insertion order.
func (p *PendingSet) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}
