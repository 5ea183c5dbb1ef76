package mqttsession

import (
	"context"
	"time"
)

// ConnectRequest carries the CONNECT parameters a Transport needs.
type ConnectRequest struct {
	Host         string
	Port         int
	ClientID     string
	Keepalive    time.Duration
	CleanSession bool
	Username     string
	Password     string
	Properties   *Properties
}

// PublishRequest carries one outgoing application message.
type PublishRequest struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	Properties *Properties
}

// Transport is the MQTT client protocol engine the session drives. Request
// methods must not call back into the EventSink; events are only delivered
// from Poll, on the caller's goroutine.
type Transport interface {
	// Connect opens the network connection and sends CONNECT. The CONNACK
	// arrives later through Poll.
	Connect(ctx context.Context, req ConnectRequest) error

	// Publish sends a PUBLISH and returns its message id. An id of 0 means
	// no acknowledgement will follow.
	Publish(req PublishRequest) (uint16, error)

	SubscribeMultiple(filters []string, opts SubscribeOptions, props *Properties) (uint16, error)
	Unsubscribe(filter string, props *Properties) (uint16, error)

	// Disconnect sends DISCONNECT and closes the connection. A DisconnectResult
	// with reason 0 is delivered by the next Poll.
	Disconnect(reason ReasonCode, props *Properties) error

	// Poll waits at most wait for transport activity and dispatches every
	// resulting event to sink. A returned error is a TransportError.
	Poll(ctx context.Context, wait time.Duration, sink EventSink) error

	Close() error
}

// EventSink receives typed transport events. Session implements it.
type EventSink interface {
	OnConnect(ev ConnectResult)
	OnPublishAck(ev PublishAck)
	OnSubscribeAck(ev SubscribeAck)
	OnUnsubscribeAck(ev UnsubscribeAck)
	OnMessage(ev Message)
	OnDisconnect(ev DisconnectResult)
}

// ConnectResult is raised for every CONNACK.
type ConnectResult struct {
	ReasonCode     ReasonCode
	SessionPresent bool
	Properties     *Properties
}

// PublishAck is raised when a PUBLISH completes: a PUBACK for QoS 1, or
// local completion for QoS 0.
type PublishAck struct {
	MessageID  uint16
	ReasonCode ReasonCode
	Properties *Properties
}

// SubscribeAck is raised for every SUBACK.
type SubscribeAck struct {
	MessageID  uint16
	GrantedQoS []ReasonCode
	Properties *Properties
}

// UnsubscribeAck is raised for every UNSUBACK.
type UnsubscribeAck struct {
	MessageID   uint16
	ReasonCodes []ReasonCode
	Properties  *Properties
}

// Message is an incoming application message.
type Message struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Retain     bool
	Properties *Properties
}

// DisconnectResult is raised when the connection ends. Err is set when the
// connection was lost rather than closed by a DISCONNECT.
type DisconnectResult struct {
	ReasonCode ReasonCode
	Properties *Properties
	Remote     bool
	Err        error
}

// Clean reports an orderly shutdown.
func (d DisconnectResult) Clean() bool {
	return d.ReasonCode == ReasonSuccess && d.Err == nil
}
