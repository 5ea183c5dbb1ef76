package mqttsession

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

// ErrKeepAliveTimeout is returned when the broker does not answer PINGREQ in time.
var ErrKeepAliveTimeout = errors.New("keep-alive timeout")

// ConnTransport is the built-in Transport: it frames MQTT 3.1.1 or 5.0
// packets over any connection a Dialer produces.
type ConnTransport struct {
	dialer        Dialer
	address       string
	version       ProtocolVersion
	maxPacketSize uint32
	logger        Logger
	now           func() time.Time

	mu       sync.Mutex
	conn     net.Conn
	incoming chan inbound
	done     chan struct{}
	ids      *PacketIDManager
	pending  []func(EventSink)

	keepalive *KeepAlive
}

type inbound struct {
	packet Packet
	err    error
}

// TransportOption configures a ConnTransport.
type TransportOption func(*ConnTransport)

// WithTransportLogger sets the logger for packet tracing.
func WithTransportLogger(logger Logger) TransportOption {
	return func(t *ConnTransport) { t.logger = logger }
}

// WithMaxPacketSize limits the size of incoming and outgoing packets.
func WithMaxPacketSize(size uint32) TransportOption {
	return func(t *ConnTransport) { t.maxPacketSize = size }
}

// NewConnTransport creates a transport that dials address with dialer.
func NewConnTransport(dialer Dialer, address string, version ProtocolVersion, opts ...TransportOption) *ConnTransport {
	t := &ConnTransport{
		dialer:  dialer,
		address: address,
		version: version,
		logger:  NewNoOpLogger(),
		now:     time.Now,
		ids:     NewPacketIDManager(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewConnTransportFor builds a ConnTransport from a session config.
func NewConnTransportFor(cfg *Config, opts ...TransportOption) (*ConnTransport, error) {
	dialer, address, err := DialerFor(cfg)
	if err != nil {
		return nil, err
	}
	return NewConnTransport(dialer, address, cfg.ProtocolVersion, opts...), nil
}

// Connect dials the broker and sends CONNECT.
func (t *ConnTransport) Connect(ctx context.Context, req ConnectRequest) error {
	t.mu.Lock()
	t.closeLocked()
	t.mu.Unlock()

	conn, err := t.dialer.Dial(ctx, t.address)
	if err != nil {
		return NewTransportError("connect", CodeNoConn, err)
	}

	packet := &ConnectPacket{
		ProtocolVersion: t.version,
		ClientID:        req.ClientID,
		CleanSession:    req.CleanSession,
		KeepAlive:       uint16(req.Keepalive / time.Second),
		Username:        req.Username,
		Props:           req.Properties,
	}
	if req.Password != "" {
		packet.Password = []byte(req.Password)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn = conn
	t.done = make(chan struct{})
	t.incoming = make(chan inbound)
	t.ids.Reset()
	t.pending = nil
	t.keepalive = NewKeepAlive(req.Keepalive)

	if err := t.writeLocked(packet); err != nil {
		t.closeLocked()
		return err
	}

	go t.readLoop(conn, t.incoming, t.done)

	t.logger.Debug("sent CONNECT", LogFields{LogFieldClientID: req.ClientID, LogFieldVersion: t.version.String()})
	return nil
}

func (t *ConnTransport) readLoop(conn net.Conn, out chan<- inbound, done <-chan struct{}) {
	for {
		packet, _, err := ReadPacket(conn, t.version, t.maxPacketSize)
		select {
		case out <- inbound{packet: packet, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Publish sends a PUBLISH. QoS 0 messages still get a message id so that
// their local completion can be correlated.
func (t *ConnTransport) Publish(req PublishRequest) (uint16, error) {
	if err := ValidateTopicName(req.Topic); err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return 0, NewTransportError("publish", CodeNoConn, ErrNotConnected)
	}

	id, err := t.ids.Allocate()
	if err != nil {
		return 0, err
	}

	packet := &PublishPacket{
		Topic:   req.Topic,
		QoS:     req.QoS,
		Retain:  req.Retain,
		Payload: req.Payload,
		Props:   req.Properties,
	}
	if req.QoS > 0 {
		packet.PacketID = id
	}

	if err := t.writeLocked(packet); err != nil {
		_ = t.ids.Release(id)
		return 0, err
	}

	if req.QoS == 0 {
		t.pending = append(t.pending, func(sink EventSink) {
			_ = t.ids.Release(id)
			sink.OnPublishAck(PublishAck{MessageID: id, ReasonCode: ReasonSuccess})
		})
	}

	return id, nil
}

// SubscribeMultiple sends one SUBSCRIBE for all filters.
func (t *ConnTransport) SubscribeMultiple(filters []string, opts SubscribeOptions, props *Properties) (uint16, error) {
	return t.sendWithID("subscribe", func(id uint16) Packet {
		return &SubscribePacket{PacketID: id, Filters: filters, Options: opts, Props: props}
	})
}

// Unsubscribe sends one UNSUBSCRIBE for filter.
func (t *ConnTransport) Unsubscribe(filter string, props *Properties) (uint16, error) {
	return t.sendWithID("unsubscribe", func(id uint16) Packet {
		return &UnsubscribePacket{PacketID: id, Filters: []string{filter}, Props: props}
	})
}

func (t *ConnTransport) sendWithID(op string, build func(id uint16) Packet) (uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return 0, NewTransportError(op, CodeNoConn, ErrNotConnected)
	}

	id, err := t.ids.Allocate()
	if err != nil {
		return 0, err
	}
	if err := t.writeLocked(build(id)); err != nil {
		_ = t.ids.Release(id)
		return 0, err
	}
	return id, nil
}

// Disconnect sends DISCONNECT and closes the connection.
func (t *ConnTransport) Disconnect(reason ReasonCode, props *Properties) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return NewTransportError("disconnect", CodeNoConn, ErrNotConnected)
	}

	err := t.writeLocked(&DisconnectPacket{ReasonCode: reason, Props: props})
	t.closeLocked()
	t.pending = append(t.pending, func(sink EventSink) {
		sink.OnDisconnect(DisconnectResult{ReasonCode: ReasonSuccess})
	})
	return err
}

// Poll delivers locally generated events, then waits at most wait for one
// packet from the broker and dispatches it along with any already queued.
func (t *ConnTransport) Poll(ctx context.Context, wait time.Duration, sink EventSink) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	incoming := t.incoming
	connected := t.conn != nil
	t.mu.Unlock()

	for _, deliver := range pending {
		deliver(sink)
	}

	if !connected {
		if len(pending) > 0 {
			return nil
		}
		return NewTransportError("poll", CodeNoConn, ErrNotConnected)
	}

	if err := t.keepAlive(); err != nil {
		return err
	}
	if len(pending) > 0 {
		wait = 0
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case in := <-incoming:
		if err := t.handle(in, sink); err != nil {
			return err
		}
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return nil
	}

	for {
		select {
		case in := <-incoming:
			if err := t.handle(in, sink); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (t *ConnTransport) keepAlive() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.keepalive == nil || t.conn == nil {
		return nil
	}

	now := t.now()
	ping, expired := t.keepalive.Check(now)
	switch {
	case expired:
		t.closeLocked()
		return NewTransportError("keepalive", CodeConnLost, ErrKeepAliveTimeout)
	case ping:
		if err := t.writeLocked(&PingreqPacket{}); err != nil {
			return err
		}
		t.keepalive.PingSent(now)
	}
	return nil
}

func (t *ConnTransport) handle(in inbound, sink EventSink) error {
	if in.err != nil {
		t.mu.Lock()
		t.closeLocked()
		t.mu.Unlock()
		return NewTransportError("read", classifyReadError(in.err), in.err)
	}

	t.logger.Debug("received packet", LogFields{LogFieldPacketType: in.packet.Type().String()})

	switch p := in.packet.(type) {
	case *ConnackPacket:
		if p.Props.Has(PropServerKeepAlive) {
			t.mu.Lock()
			t.keepalive.SetServerOverride(p.Props.GetUint16(PropServerKeepAlive))
			t.mu.Unlock()
		}
		sink.OnConnect(ConnectResult{ReasonCode: p.ReasonCode, SessionPresent: p.SessionPresent, Properties: p.Props})
	case *PubackPacket:
		_ = t.ids.Release(p.PacketID)
		sink.OnPublishAck(PublishAck{MessageID: p.PacketID, ReasonCode: p.ReasonCode, Properties: p.Props})
	case *SubackPacket:
		_ = t.ids.Release(p.PacketID)
		sink.OnSubscribeAck(SubscribeAck{MessageID: p.PacketID, GrantedQoS: p.ReasonCodes, Properties: p.Props})
	case *UnsubackPacket:
		_ = t.ids.Release(p.PacketID)
		sink.OnUnsubscribeAck(UnsubscribeAck{MessageID: p.PacketID, ReasonCodes: p.ReasonCodes, Properties: p.Props})
	case *PublishPacket:
		if p.QoS == 1 {
			t.mu.Lock()
			err := t.writeLocked(&PubackPacket{PacketID: p.PacketID})
			t.mu.Unlock()
			if err != nil {
				return err
			}
		}
		sink.OnMessage(Message{Topic: p.Topic, Payload: p.Payload, QoS: p.QoS, Retain: p.Retain, Properties: p.Props})
	case *PingrespPacket:
		t.mu.Lock()
		t.keepalive.PingAnswered()
		t.mu.Unlock()
	case *DisconnectPacket:
		t.mu.Lock()
		t.closeLocked()
		t.mu.Unlock()
		sink.OnDisconnect(DisconnectResult{ReasonCode: p.ReasonCode, Properties: p.Props, Remote: true})
	default:
		t.mu.Lock()
		t.closeLocked()
		t.mu.Unlock()
		return NewTransportError("read", CodeProtocol, ErrUnknownPacketType)
	}

	return nil
}

// Close drops the connection without sending DISCONNECT.
func (t *ConnTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked()
}

// Connected reports whether a connection is open.
func (t *ConnTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

func (t *ConnTransport) writeLocked(packet Packet) error {
	if _, err := WritePacket(t.conn, packet, t.version, t.maxPacketSize); err != nil {
		code := CodeConnLost
		if !isIOError(err) {
			code = CodeProtocol
		}
		return NewTransportError("write "+packet.Type().String(), code, err)
	}
	if t.keepalive != nil {
		t.keepalive.Sent(t.now())
	}
	return nil
}

func (t *ConnTransport) closeLocked() error {
	if t.conn == nil {
		return nil
	}
	close(t.done)
	err := t.conn.Close()
	t.conn = nil
	return err
}

func classifyReadError(err error) int {
	if isIOError(err) {
		return CodeConnLost
	}
	return CodeProtocol
}

func isIOError(err error) bool {
	var netErr net.Error
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.As(err, &netErr)
}
