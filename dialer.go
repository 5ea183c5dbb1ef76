package mqttsession

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Dialer establishes the byte stream a ConnTransport speaks MQTT over.
type Dialer interface {
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	Config  *tls.Config
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout},
		Config:    d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// UnixDialer connects over a Unix domain socket. The address is the socket path.
type UnixDialer struct{}

// Dial connects to the Unix socket at the given path.
func (d *UnixDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", address)
}

// DialerFor picks the dialer and dial address matching cfg.Transport. The
// address is what Dial expects: host:port, a ws URL or a socket path.
func DialerFor(cfg *Config) (Dialer, string, error) {
	hostPort := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var forward Dialer = &TCPDialer{Timeout: cfg.ConnTimeout}
	if cfg.Proxy != "" {
		pd, err := NewProxyDialer(cfg.Proxy)
		if err != nil {
			return nil, "", NewConfigError("proxy", err.Error())
		}
		forward = pd
	}

	switch cfg.Transport {
	case "", TransportTCP:
		return forward, hostPort, nil
	case TransportTLS:
		if cfg.Proxy != "" {
			return &tlsOverDialer{forward: forward, config: &tls.Config{ServerName: cfg.Host}}, hostPort, nil
		}
		return &TLSDialer{Config: &tls.Config{ServerName: cfg.Host}, Timeout: cfg.ConnTimeout}, hostPort, nil
	case TransportWS, TransportWSS:
		path := cfg.Path
		if path == "" {
			path = "/mqtt"
		}
		return NewWSDialer(), fmt.Sprintf("%s://%s%s", cfg.Transport, hostPort, path), nil
	case TransportUnix:
		return &UnixDialer{}, cfg.Path, nil
	case TransportQUIC:
		return NewQUICDialer(&tls.Config{ServerName: cfg.Host}), hostPort, nil
	}
	return nil, "", NewConfigError("transport", "unknown transport "+cfg.Transport)
}

// tlsOverDialer runs a TLS client handshake over a connection from forward.
type tlsOverDialer struct {
	forward Dialer
	config  *tls.Config
}

func (d *tlsOverDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	raw, err := d.forward.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	conn := tls.Client(raw, d.config)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}
