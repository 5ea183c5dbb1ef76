package mqttsession

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// quicALPN is the ALPN protocol MQTT-over-QUIC brokers expect.
const quicALPN = "mqtt"

// quicConn carries MQTT over the first bidirectional stream of a QUIC connection.
type quicConn struct {
	conn   *quic.Conn
	stream *quic.Stream
	once   sync.Once
	err    error
}

func (c *quicConn) Read(b []byte) (int, error)  { return c.stream.Read(b) }
func (c *quicConn) Write(b []byte) (int, error) { return c.stream.Write(b) }
func (c *quicConn) LocalAddr() net.Addr         { return c.conn.LocalAddr() }
func (c *quicConn) RemoteAddr() net.Addr        { return c.conn.RemoteAddr() }

func (c *quicConn) Close() error {
	c.once.Do(func() {
		c.err = c.stream.Close()
		if err := c.conn.CloseWithError(0, ""); c.err == nil {
			c.err = err
		}
	})
	return c.err
}

func (c *quicConn) SetDeadline(t time.Time) error      { return c.stream.SetDeadline(t) }
func (c *quicConn) SetReadDeadline(t time.Time) error  { return c.stream.SetReadDeadline(t) }
func (c *quicConn) SetWriteDeadline(t time.Time) error { return c.stream.SetWriteDeadline(t) }

// QUICDialer connects to MQTT brokers over QUIC. TLS 1.3 is mandatory.
type QUICDialer struct {
	TLSConfig  *tls.Config
	QUICConfig *quic.Config
}

// NewQUICDialer creates a QUIC dialer; the config is cloned and forced to
// TLS 1.3 with the "mqtt" ALPN.
func NewQUICDialer(tlsConfig *tls.Config) *QUICDialer {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	tlsConfig = tlsConfig.Clone()
	tlsConfig.MinVersion = tls.VersionTLS13
	if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{quicALPN}
	}
	return &QUICDialer{TLSConfig: tlsConfig}
}

// Dial connects to host:port and opens the MQTT stream.
func (d *QUICDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	conn, err := quic.DialAddr(ctx, address, d.TLSConfig, d.QUICConfig)
	if err != nil {
		return nil, err
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		return nil, err
	}

	return &quicConn{conn: conn, stream: stream}, nil
}
