package discovery

import (
	"fmt"
	"time"
)

// Device identifies a Gree appliance reachable on the network. The same shape
// is used for records persisted in the store and for devices produced by a
// scan.
type Device struct {
	// ID is the device identifier (the MAC-derived "cid", e.g. "f4911e1a2b3c")
	ID string `json:"id"`

	// IP is the IPv4 address the device answered from
	IP string `json:"ip"`

	// Key is the per-device AES key obtained from the bind handshake
	Key string `json:"key,omitempty"`

	// GCM is true for devices that speak the AES-GCM protocol variant
	GCM bool `json:"gcm"`

	// Name is the friendly name reported in the scan reply, if any
	Name string `json:"name,omitempty"`

	// DiscoveredAt is when the device was resolved
	DiscoveredAt time.Time `json:"discovered_at,omitempty"`
}

// String returns a human-readable representation of the device
func (d Device) String() string {
	variant := "ecb"
	if d.GCM {
		variant = "gcm"
	}
	return fmt.Sprintf("Gree device %s at %s (%s)", d.ID, d.IP, variant)
}

// HasKey reports whether the device carries usable session key material.
func (d Device) HasKey() bool {
	return d.Key != ""
}

// indexByIP maps known devices by address. Later records win.
func indexByIP(devices []Device) map[string]Device {
	byIP := make(map[string]Device, len(devices))
	for _, d := range devices {
		if d.IP != "" {
			byIP[d.IP] = d
		}
	}
	return byIP
}
