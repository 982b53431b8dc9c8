package gree

import (
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/greemqtt/greemqtt/internal/discovery"
)

// fakeDevice is an in-process appliance answering on a loopback UDP port.
type fakeDevice struct {
	t    *testing.T
	conn *net.UDPConn
	mac  string
	key  string
	gcm  bool

	mu    sync.Mutex
	state map[string]interface{}
	binds int
}

func startFakeDevice(t *testing.T, mac string, gcm bool) *fakeDevice {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}

	f := &fakeDevice{
		t:    t,
		conn: conn,
		mac:  mac,
		key:  "0123456789abcdef",
		gcm:  gcm,
		state: map[string]interface{}{
			"Pow":    0,
			"Mod":    1,
			"SetTem": 24,
		},
	}
	t.Cleanup(func() { _ = conn.Close() })

	go f.serve()
	return f
}

func (f *fakeDevice) port() int {
	return f.conn.LocalAddr().(*net.UDPAddr).Port
}

func (f *fakeDevice) client() *Client {
	c := NewClient(f.port())
	c.Timeout = 300 * time.Millisecond
	return c
}

func (f *fakeDevice) bindCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.binds
}

func (f *fakeDevice) value(k string) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[k]
}

func (f *fakeDevice) serve() {
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		var req Packet
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			continue
		}

		resp, ok := f.handle(req)
		if !ok {
			continue
		}
		data, _ := json.Marshal(resp)
		_, _ = f.conn.WriteToUDP(data, addr)
	}
}

func (f *fakeDevice) handle(req Packet) (Packet, bool) {
	reply := Packet{T: TypePack, I: 0, UID: 0, CID: f.mac}

	switch req.T {
	case TypeScan:
		reply.I = 1
		if err := seal(&reply, GenericKey, false, ScanInfo{T: TypeDev, CID: f.mac, MAC: f.mac, Name: "Living room"}); err != nil {
			return Packet{}, false
		}
		return reply, true

	case TypePack:
		// A device only understands its own cipher variant.
		if (req.Tag != "") != f.gcm {
			return Packet{}, false
		}
		generic := GenericKey
		if f.gcm {
			generic = GenericGCMKey
		}

		var body map[string]interface{}
		key := f.key
		if err := open(req, key, &body); err != nil {
			key = generic
			if err := open(req, key, &body); err != nil {
				return Packet{}, false
			}
		}

		var out interface{}
		switch body["t"] {
		case TypeBind:
			f.mu.Lock()
			f.binds++
			f.mu.Unlock()
			reply.I = 1
			out = bindResponse{T: TypeBindOK, MAC: f.mac, Key: f.key}
		case TypeStatus:
			cols, _ := body["cols"].([]interface{})
			names := make([]string, len(cols))
			dat := make([]interface{}, len(cols))
			f.mu.Lock()
			for i, c := range cols {
				names[i], _ = c.(string)
				dat[i] = f.state[names[i]]
			}
			f.mu.Unlock()
			out = statusResponse{T: TypeDat, MAC: f.mac, Cols: names, Dat: dat}
		case TypeCmd:
			opt, _ := body["opt"].([]interface{})
			p, _ := body["p"].([]interface{})
			names := make([]string, len(opt))
			f.mu.Lock()
			for i, o := range opt {
				names[i], _ = o.(string)
				if i < len(p) {
					f.state[names[i]] = p[i]
				}
			}
			f.mu.Unlock()
			out = cmdResponse{T: TypeRes, MAC: f.mac, R: 200, Opt: names, P: p, Val: p}
		default:
			return Packet{}, false
		}

		if err := seal(&reply, key, f.gcm, out); err != nil {
			return Packet{}, false
		}
		return reply, true
	}
	return Packet{}, false
}

func deviceAt(ip string) discovery.Device {
	return discovery.Device{ID: "f4911e000000", IP: ip, Key: "0123456789abcdef"}
}
