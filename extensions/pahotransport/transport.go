// Package pahotransport implements mqttsession.Transport for MQTT 3.1.1 on
// top of the Eclipse Paho client, which reconnects on its own.
package pahotransport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/vitalvas/mqttsession"
)

const (
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultConnectTimeout    = 10 * time.Second
)

// ClientFactory creates the Paho client. Tests replace it with a fake.
type ClientFactory func(opts *pahomqtt.ClientOptions) pahomqtt.Client

// Transport adapts a Paho client. Paho invokes its handlers on its own
// goroutines; they are queued here and delivered by Poll on the caller's
// goroutine.
type Transport struct {
	newClient      ClientFactory
	autoReconnect  bool
	connectTimeout time.Duration
	logger         mqttsession.Logger

	mu      sync.Mutex
	client  pahomqtt.Client
	ids     *mqttsession.PacketIDManager
	pending []event
	wake    chan struct{}
}

type event struct {
	deliver func(mqttsession.EventSink)
	err     error
}

// Option configures a Transport.
type Option func(*Transport)

// WithClientFactory replaces pahomqtt.NewClient.
func WithClientFactory(f ClientFactory) Option {
	return func(t *Transport) { t.newClient = f }
}

// WithAutoReconnect enables Paho's automatic reconnect.
func WithAutoReconnect(enabled bool) Option {
	return func(t *Transport) { t.autoReconnect = enabled }
}

// WithConnectTimeout bounds the initial connection attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) { t.connectTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger mqttsession.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New creates a Paho transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		newClient:      pahomqtt.NewClient,
		connectTimeout: defaultConnectTimeout,
		logger:         mqttsession.NewNoOpLogger(),
		ids:            mqttsession.NewPacketIDManager(),
		wake:           make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewFor creates a Paho transport for cfg, reconnecting when cfg.Reconnect is set.
func NewFor(cfg *mqttsession.Config, opts ...Option) *Transport {
	base := []Option{WithAutoReconnect(cfg.Reconnect)}
	if cfg.ConnTimeout > 0 {
		base = append(base, WithConnectTimeout(cfg.ConnTimeout))
	}
	return New(append(base, opts...)...)
}

func (t *Transport) push(ev event) {
	t.mu.Lock()
	t.pending = append(t.pending, ev)
	t.mu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Transport) clientOptions(req mqttsession.ConnectRequest) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", req.Host, req.Port))
	opts.SetClientID(req.ClientID)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(req.CleanSession)
	opts.SetKeepAlive(req.Keepalive)
	opts.SetConnectTimeout(t.connectTimeout)
	opts.SetAutoReconnect(t.autoReconnect)
	opts.SetConnectRetry(false)

	if req.Username != "" {
		opts.SetUsername(req.Username)
		opts.SetPassword(req.Password)
	}

	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		t.push(event{deliver: func(sink mqttsession.EventSink) {
			sink.OnConnect(mqttsession.ConnectResult{ReasonCode: mqttsession.ReasonSuccess})
		}})
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		t.logger.Warn("connection lost", mqttsession.LogFields{mqttsession.LogFieldError: err.Error()})
		t.push(event{deliver: func(sink mqttsession.EventSink) {
			sink.OnDisconnect(mqttsession.DisconnectResult{ReasonCode: mqttsession.ReasonUnspecifiedError, Err: err})
		}})
	})
	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		m := mqttsession.Message{
			Topic:   msg.Topic(),
			Payload: msg.Payload(),
			QoS:     msg.Qos(),
			Retain:  msg.Retained(),
		}
		t.push(event{deliver: func(sink mqttsession.EventSink) { sink.OnMessage(m) }})
	})

	return opts
}

// Connect starts the Paho client. A successful CONNACK is reported by the
// on-connect handler; a refusal by the connect token.
func (t *Transport) Connect(_ context.Context, req mqttsession.ConnectRequest) error {
	client := t.newClient(t.clientOptions(req))

	t.mu.Lock()
	t.client = client
	t.ids.Reset()
	t.mu.Unlock()

	token := client.Connect()
	go func() {
		<-token.Done()
		err := token.Error()

		var code byte
		if ct, ok := token.(interface{ ReturnCode() byte }); ok {
			code = ct.ReturnCode()
		}

		switch {
		case code != 0:
			rc := mqttsession.ReasonCode(code)
			t.push(event{deliver: func(sink mqttsession.EventSink) {
				sink.OnConnect(mqttsession.ConnectResult{ReasonCode: rc})
			}})
		case err != nil:
			t.push(event{err: mqttsession.NewTransportError("connect", mqttsession.CodeNoConn, err)})
		}
	}()

	return nil
}

func (t *Transport) current(op string) (pahomqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, mqttsession.NewTransportError(op, mqttsession.CodeNoConn, mqttsession.ErrNotConnected)
	}
	return t.client, nil
}

// Publish sends a PUBLISH. The returned id is local: Paho does not expose
// its packet ids before the token completes.
func (t *Transport) Publish(req mqttsession.PublishRequest) (uint16, error) {
	client, err := t.current("publish")
	if err != nil {
		return 0, err
	}
	id, err := t.ids.Allocate()
	if err != nil {
		return 0, err
	}

	token := client.Publish(req.Topic, req.QoS, req.Retain, req.Payload)
	go func() {
		<-token.Done()
		_ = t.ids.Release(id)

		ack := mqttsession.PublishAck{MessageID: id, ReasonCode: mqttsession.ReasonSuccess}
		if err := token.Error(); err != nil {
			t.logger.Warn("publish failed", mqttsession.LogFields{
				mqttsession.LogFieldMessageID: id,
				mqttsession.LogFieldError:     err.Error(),
			})
			ack.ReasonCode = mqttsession.ReasonUnspecifiedError
		}
		t.push(event{deliver: func(sink mqttsession.EventSink) { sink.OnPublishAck(ack) }})
	}()

	return id, nil
}

// SubscribeMultiple subscribes to every filter with the same QoS. Paho
// reports grants per filter; they are returned in filter order.
func (t *Transport) SubscribeMultiple(filters []string, opts mqttsession.SubscribeOptions, _ *mqttsession.Properties) (uint16, error) {
	client, err := t.current("subscribe")
	if err != nil {
		return 0, err
	}
	id, err := t.ids.Allocate()
	if err != nil {
		return 0, err
	}

	request := make(map[string]byte, len(filters))
	for _, f := range filters {
		request[f] = opts.QoS
	}
	ordered := append([]string(nil), filters...)

	token := client.SubscribeMultiple(request, nil)
	go func() {
		<-token.Done()
		_ = t.ids.Release(id)

		if err := token.Error(); err != nil {
			t.push(event{err: mqttsession.NewTransportError("subscribe", mqttsession.CodeProtocol, err)})
			return
		}

		granted := make([]mqttsession.ReasonCode, len(ordered))
		result := map[string]byte{}
		if st, ok := token.(interface{ Result() map[string]byte }); ok {
			result = st.Result()
		}
		for i, f := range ordered {
			granted[i] = mqttsession.ReasonCode(result[f])
		}
		t.push(event{deliver: func(sink mqttsession.EventSink) {
			sink.OnSubscribeAck(mqttsession.SubscribeAck{MessageID: id, GrantedQoS: granted})
		}})
	}()

	return id, nil
}

// Unsubscribe removes one filter.
func (t *Transport) Unsubscribe(filter string, _ *mqttsession.Properties) (uint16, error) {
	client, err := t.current("unsubscribe")
	if err != nil {
		return 0, err
	}
	id, err := t.ids.Allocate()
	if err != nil {
		return 0, err
	}

	token := client.Unsubscribe(filter)
	go func() {
		<-token.Done()
		_ = t.ids.Release(id)

		if err := token.Error(); err != nil {
			t.push(event{err: mqttsession.NewTransportError("unsubscribe", mqttsession.CodeProtocol, err)})
			return
		}
		t.push(event{deliver: func(sink mqttsession.EventSink) {
			sink.OnUnsubscribeAck(mqttsession.UnsubscribeAck{MessageID: id})
		}})
	}()

	return id, nil
}

// Disconnect closes the connection. 3.1.1 DISCONNECT carries no reason.
func (t *Transport) Disconnect(_ mqttsession.ReasonCode, _ *mqttsession.Properties) error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client == nil {
		return mqttsession.NewTransportError("disconnect", mqttsession.CodeNoConn, mqttsession.ErrNotConnected)
	}

	client.Disconnect(defaultDisconnectQuiesce)
	t.push(event{deliver: func(sink mqttsession.EventSink) {
		sink.OnDisconnect(mqttsession.DisconnectResult{ReasonCode: mqttsession.ReasonSuccess})
	}})
	return nil
}

// Poll delivers queued events, waiting at most wait for the first one.
func (t *Transport) Poll(ctx context.Context, wait time.Duration, sink mqttsession.EventSink) error {
	events := t.take()
	if len(events) == 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-t.wake:
			events = t.take()
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	var errs []error
	for _, ev := range events {
		if ev.err != nil {
			errs = append(errs, ev.err)
			continue
		}
		ev.deliver(sink)
	}
	return errors.Join(errs...)
}

func (t *Transport) take() []event {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.pending
	t.pending = nil
	return events
}

// Close drops the client without waiting.
func (t *Transport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(0)
	}
	return nil
}
