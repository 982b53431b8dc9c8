package discovery

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// MinPrefixBits bounds subnet expansion; anything larger than a /16 is refused.
const MinPrefixBits = 16

// SubnetHosts returns every usable host address of an IPv4 CIDR in ascending
// order. Network and broadcast addresses are excluded, so /31 and /32 yield
// no hosts.
func SubnetHosts(cidr string) ([]string, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid subnet %q", cidr), Err: err}
	}
	if !prefix.Addr().Is4() {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("subnet %q is not IPv4", cidr)}
	}
	if prefix.Bits() < MinPrefixBits {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("subnet %q too large (max /%d)", cidr, MinPrefixBits)}
	}

	prefix = prefix.Masked()
	if prefix.Bits() >= 31 {
		return nil, nil
	}

	base := prefix.Addr().As4()
	network := binary.BigEndian.Uint32(base[:])
	broadcast := network | (uint32(1)<<(32-prefix.Bits()) - 1)

	hosts := make([]string, 0, broadcast-network-1)
	for n := network + 1; n < broadcast; n++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], n)
		hosts = append(hosts, netip.AddrFrom4(b).String())
	}
	return hosts, nil
}

// ResolveTargets builds the target address set for a scan.
//
// A non-empty explicit list is used as-is (deduplicated). Otherwise the subnet
// is expanded; known device addresses inside it come first, then hint
// addresses (e.g. from mDNS), then the remaining hosts. An empty result is a
// ConfigurationError wrapping ErrNoTargets.
func ResolveTargets(explicit []string, subnet string, known []Device, hints []string) ([]string, error) {
	if len(explicit) > 0 {
		targets := dedupe(explicit)
		if len(targets) == 0 {
			return nil, noTargets("explicit network list is empty")
		}
		return targets, nil
	}

	hosts, err := SubnetHosts(subnet)
	if err != nil {
		return nil, err
	}

	inSubnet := make(map[string]bool, len(hosts))
	for _, h := range hosts {
		inSubnet[h] = true
	}

	ordered := make([]string, 0, len(hosts)+len(hints))
	for _, d := range known {
		if inSubnet[d.IP] {
			ordered = append(ordered, d.IP)
		}
	}
	for _, h := range hints {
		if addr, err := netip.ParseAddr(h); err == nil && addr.Is4() {
			ordered = append(ordered, addr.String())
		}
	}
	ordered = append(ordered, hosts...)

	targets := dedupe(ordered)
	if len(targets) == 0 {
		return nil, noTargets(fmt.Sprintf("no usable hosts in subnet %s", subnet))
	}
	return targets, nil
}

func dedupe(addrs []string) []string {
	seen := make(map[string]bool, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}
