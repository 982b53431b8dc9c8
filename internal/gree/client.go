package gree

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/greemqtt/greemqtt/internal/discovery"
	"github.com/greemqtt/greemqtt/internal/logging"
)

const (
	// DefaultPort is the UDP port Gree appliances listen on
	DefaultPort = 7000

	// DefaultTimeout bounds one request/response exchange
	DefaultTimeout = 5 * time.Second

	maxDatagram = 65535
)

// Client speaks the Gree UDP protocol. It is stateless and safe for
// concurrent use; each exchange uses its own socket.
type Client struct {
	// Port is the device UDP port (default 7000)
	Port int

	// Timeout bounds each exchange when ctx has no earlier deadline
	Timeout time.Duration
}

// NewClient creates a client for the given device port. Zero means default.
func NewClient(port int) *Client {
	if port <= 0 {
		port = DefaultPort
	}
	return &Client{
		Port:    port,
		Timeout: DefaultTimeout,
	}
}

// Probe sends a scan request and reports whether a well-formed reply came
// back. Network failures yield false, never an error.
func (c *Client) Probe(ctx context.Context, ip string) bool {
	_, err := c.Scan(ctx, ip)
	if err != nil {
		logging.Debug("Probe failed", zap.String("ip", ip), zap.Error(err))
		return false
	}
	return true
}

// Scan asks the device at ip to identify itself.
func (c *Client) Scan(ctx context.Context, ip string) (ScanInfo, error) {
	resp, err := c.exchange(ctx, ip, Packet{T: TypeScan})
	if err != nil {
		return ScanInfo{}, err
	}
	if resp.T != TypePack {
		return ScanInfo{}, NewProtocolError(fmt.Sprintf("unexpected scan reply type %q", resp.T), nil)
	}

	var info ScanInfo
	if err := openGeneric(resp, &info); err != nil {
		return ScanInfo{}, err
	}
	if info.id() == "" {
		info.CID = resp.CID
	}
	if info.id() == "" {
		return ScanInfo{}, NewProtocolError("scan reply carries no device id", nil)
	}
	return info, nil
}

// Handshake identifies the device and binds to it, trying the ECB variant
// first and falling back to GCM. The returned device carries the session key.
func (c *Client) Handshake(ctx context.Context, ip string) (*discovery.Device, error) {
	info, err := c.Scan(ctx, ip)
	if err != nil {
		return nil, err
	}
	mac := info.id()

	ecbCtx, cancel := c.firstBindContext(ctx)
	key, ecbErr := c.bind(ecbCtx, ip, mac, false)
	cancel()
	if ecbErr == nil {
		return c.device(ip, info, key, false), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logging.Debug("ECB bind failed, trying GCM", zap.String("ip", ip), zap.Error(ecbErr))

	key, gcmErr := c.bind(ctx, ip, mac, true)
	if gcmErr == nil {
		return c.device(ip, info, key, true), nil
	}

	return nil, NewBindError(ip, "device rejected both bind variants", multierr.Combine(ecbErr, gcmErr))
}

// firstBindContext bounds the ECB bind. GCM devices never answer it, so
// under a deadline it may use at most half of what is left.
func (c *Client) firstBindContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := c.timeout()
	if dl, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(dl)/2)
	}
	return context.WithTimeout(ctx, budget)
}

func (c *Client) device(ip string, info ScanInfo, key string, gcm bool) *discovery.Device {
	return &discovery.Device{
		ID:           info.id(),
		IP:           ip,
		Key:          key,
		GCM:          gcm,
		Name:         info.Name,
		DiscoveredAt: time.Now(),
	}
}

func (c *Client) bind(ctx context.Context, ip, mac string, gcm bool) (string, error) {
	req := header(mac, 1)
	key := GenericKey
	if gcm {
		key = GenericGCMKey
	}
	if err := seal(&req, key, gcm, bindRequest{MAC: mac, T: TypeBind, UID: 0}); err != nil {
		return "", err
	}

	resp, err := c.exchange(ctx, ip, req)
	if err != nil {
		return "", err
	}

	var body bindResponse
	if err := open(resp, key, &body); err != nil {
		return "", err
	}
	if body.T != TypeBindOK || body.Key == "" {
		return "", NewBindError(ip, fmt.Sprintf("unexpected bind reply %q", body.T), nil)
	}
	return body.Key, nil
}

// Status reads the given properties from a bound device.
func (c *Client) Status(ctx context.Context, dev discovery.Device, cols []string) (map[string]interface{}, error) {
	if len(cols) == 0 {
		cols = DefaultStatusColumns
	}

	req := header(dev.ID, 0)
	if err := seal(&req, dev.Key, dev.GCM, statusRequest{Cols: cols, MAC: dev.ID, T: TypeStatus}); err != nil {
		return nil, err
	}

	resp, err := c.exchange(ctx, dev.IP, req)
	if err != nil {
		return nil, err
	}

	var body statusResponse
	if err := open(resp, dev.Key, &body); err != nil {
		return nil, err
	}
	if body.T != TypeDat {
		return nil, NewProtocolError(fmt.Sprintf("unexpected status reply %q", body.T), nil)
	}
	if len(body.Cols) == 0 {
		body.Cols = cols
	}
	return zipStatus(body.Cols, body.Dat)
}

// Set writes properties on a bound device.
func (c *Client) Set(ctx context.Context, dev discovery.Device, params map[string]interface{}) error {
	if len(params) == 0 {
		return nil
	}
	opt, p := splitParams(params)

	req := header(dev.ID, 0)
	if err := seal(&req, dev.Key, dev.GCM, cmdRequest{Opt: opt, P: p, T: TypeCmd}); err != nil {
		return err
	}

	resp, err := c.exchange(ctx, dev.IP, req)
	if err != nil {
		return err
	}

	var body cmdResponse
	if err := open(resp, dev.Key, &body); err != nil {
		return err
	}
	if body.T != TypeRes {
		return NewProtocolError(fmt.Sprintf("unexpected command reply %q", body.T), nil)
	}
	if body.R != 0 && body.R != 200 {
		return NewProtocolError(fmt.Sprintf("device rejected command with code %d", body.R), nil)
	}
	return nil
}

// exchange sends one datagram to ip and waits for one reply.
func (c *Client) exchange(ctx context.Context, ip string, req Packet) (Packet, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(c.port()))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return Packet{}, ClassifyNetworkError(err, ip)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout())
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return Packet{}, ClassifyNetworkError(err, ip)
	}

	// Unblock the read as soon as ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	data, err := json.Marshal(req)
	if err != nil {
		return Packet{}, NewProtocolError("failed to encode packet", err)
	}
	logging.LogRawPacket("UDP send", addr, data)

	if _, err := conn.Write(data); err != nil {
		return Packet{}, ClassifyNetworkError(err, ip)
	}

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Packet{}, ClassifyNetworkError(ctxErr, ip)
		}
		return Packet{}, ClassifyNetworkError(err, ip)
	}
	logging.LogRawPacket("UDP recv", addr, buf[:n])

	var resp Packet
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return Packet{}, NewProtocolError("reply is not a JSON packet", err)
	}
	return resp, nil
}

func (c *Client) port() int {
	if c.Port > 0 {
		return c.Port
	}
	return DefaultPort
}

func (c *Client) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// openGeneric decrypts a pre-bind packet with the generic key of its variant.
func openGeneric(p Packet, v interface{}) error {
	if p.Tag != "" {
		return open(p, GenericGCMKey, v)
	}
	return open(p, GenericKey, v)
}
