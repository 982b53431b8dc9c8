package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/logging"
)

const (
	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultBrowseTimeout is the default time spent collecting mDNS answers
	DefaultBrowseTimeout = 3 * time.Second
)

// MDNSBrowser collects IPv4 addresses advertising an mDNS service type. The
// addresses are used as target hints so matching hosts are probed first.
type MDNSBrowser struct {
	// Service is the mDNS service type, e.g. "_gree._udp"
	Service string

	// Timeout is the maximum time to wait for answers
	Timeout time.Duration
}

// NewMDNSBrowser creates a browser for the given service type
func NewMDNSBrowser(service string) *MDNSBrowser {
	return &MDNSBrowser{
		Service: service,
		Timeout: DefaultBrowseTimeout,
	}
}

// Browse returns the deduplicated IPv4 addresses that answered within the
// timeout. Cancellation of ctx ends browsing early and returns what was
// collected so far.
func (b *MDNSBrowser) Browse(ctx context.Context) ([]string, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	result := make(chan []string, 1)

	go func() {
		var addrs []string
		defer func() { result <- dedupe(addrs) }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				found := entryAddresses(entry)
				if len(found) > 0 {
					logging.Debug("mDNS answer",
						zap.String("instance", entry.Instance),
						zap.Strings("addrs", found),
					)
				}
				addrs = append(addrs, found...)
			}
		}
	}()

	if err := resolver.Browse(ctx, b.Service, ServiceDomain, entries); err != nil {
		cancel()
		<-result
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()
	addrs := <-result

	logging.Info("mDNS browse complete",
		zap.String("service", b.Service),
		zap.Int("addresses", len(addrs)),
	)
	return addrs, nil
}

// entryAddresses extracts IPv4 addresses from a service entry
func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	if entry == nil {
		return nil
	}
	addrs := make([]string, 0, len(entry.AddrIPv4))
	for _, ip := range entry.AddrIPv4 {
		if v4 := ip.To4(); v4 != nil {
			addrs = append(addrs, v4.String())
		}
	}
	return addrs
}
