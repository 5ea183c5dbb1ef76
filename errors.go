package mqttsession

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the session error taxonomy - check with errors.Is().
var (
	// ErrConfig is returned for invalid configuration values.
	ErrConfig = errors.New("invalid configuration")

	// ErrProtocolNegotiation is returned when a property set is illegal for its packet kind.
	ErrProtocolNegotiation = errors.New("invalid properties")

	// ErrConnectRefused is reported when the broker answers CONNECT with a failure.
	ErrConnectRefused = errors.New("connection refused")

	// ErrTopicValidation is reported for a malformed topic filter.
	ErrTopicValidation = errors.New("invalid topic")

	// ErrPublishFailed is reported when a PUBLISH is acknowledged with a failure code.
	ErrPublishFailed = errors.New("publish failed")

	// ErrSubscriptionDenied is reported when every requested subscription is refused.
	ErrSubscriptionDenied = errors.New("all subscription requests were denied")

	// ErrTransport is returned for loop-level I/O failures.
	ErrTransport = errors.New("transport error")

	// ErrServerDisconnect is reported when the broker ends the session with a failure code.
	ErrServerDisconnect = errors.New("server disconnect")
)

// Sentinel errors for session operations.
var (
	// ErrNotConnected is returned when an operation requires the Ready state.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidState is returned for a state transition the session does not allow.
	ErrInvalidState = errors.New("invalid session state")

	// ErrStopPublishing is returned by a PayloadSource to end the publishing phase.
	ErrStopPublishing = errors.New("publishing stopped")

	// ErrUsage is returned by ParseFlags for bad command lines.
	ErrUsage = errors.New("usage error")
)

// ConfigError describes a rejected configuration value.
type ConfigError struct {
	err    error
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "Error: " + e.Reason
	}
	return fmt.Sprintf("Error: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.err }

// NewConfigError creates a new ConfigError.
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{err: ErrConfig, Field: field, Reason: reason}
}

// ProtocolNegotiationError reports a property set that failed validation.
type ProtocolNegotiationError struct {
	err    error
	Packet PacketType
	Cause  error
}

func (e *ProtocolNegotiationError) Error() string {
	return fmt.Sprintf("Error in %s properties: %v", e.Packet, e.Cause)
}

func (e *ProtocolNegotiationError) Unwrap() []error { return []error{e.err, e.Cause} }

// NewProtocolNegotiationError creates a new ProtocolNegotiationError.
func NewProtocolNegotiationError(packet PacketType, cause error) *ProtocolNegotiationError {
	return &ProtocolNegotiationError{err: ErrProtocolNegotiation, Packet: packet, Cause: cause}
}

// ConnectError contains details about a refused connection.
// Extract with errors.As().
type ConnectError struct {
	err        error
	ReasonCode ReasonCode
	Version    ProtocolVersion
	Properties *Properties
}

func (e *ConnectError) Error() string {
	msg := "Connection error: " + e.ReasonCode.ConnackText(e.Version)
	if e.FallbackAdvised() {
		msg += ". Try connecting to an MQTT v5 broker, or use MQTT v3.x mode."
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.err }

// FallbackAdvised reports whether the broker rejected the v5 protocol level,
// in which case 3.1.1 mode may work.
func (e *ConnectError) FallbackAdvised() bool {
	return e.Version == ProtocolV5 && e.ReasonCode == ReasonUnsupportedProtocolVersion
}

// NewConnectError creates a new ConnectError.
func NewConnectError(reason ReasonCode, version ProtocolVersion, props *Properties) *ConnectError {
	return &ConnectError{err: ErrConnectRefused, ReasonCode: reason, Version: version, Properties: props}
}

// TopicValidationError reports one rejected topic filter.
type TopicValidationError struct {
	err         error
	Filter      string
	Unsubscribe bool
	Cause       error
}

func (e *TopicValidationError) Error() string {
	if errors.Is(e.Cause, ErrMalformedUTF8) {
		return "Error: Malformed UTF-8 in argument."
	}
	kind := "subscription"
	if e.Unsubscribe {
		kind = "unsubscribe"
	}
	return fmt.Sprintf("Error: Invalid %s topic '%s', are all '+' and '#' wildcards correct?", kind, e.Filter)
}

func (e *TopicValidationError) Unwrap() []error { return []error{e.err, e.Cause} }

// NewTopicValidationError creates a new TopicValidationError.
func NewTopicValidationError(filter string, unsubscribe bool, cause error) *TopicValidationError {
	return &TopicValidationError{err: ErrTopicValidation, Filter: filter, Unsubscribe: unsubscribe, Cause: cause}
}

// PublishFailure reports a PUBLISH acknowledged with a failure reason code.
// It is a warning: the session keeps running.
type PublishFailure struct {
	err          error
	MessageID    uint16
	Topic        string
	ReasonCode   ReasonCode
	ReasonString string
}

func (e *PublishFailure) Error() string {
	msg := fmt.Sprintf("Warning: Publish %d failed: %s.", e.MessageID, e.ReasonCode)
	if e.ReasonString != "" {
		msg += " " + e.ReasonString
	}
	return msg
}

func (e *PublishFailure) Unwrap() error { return e.err }

// NewPublishFailure creates a new PublishFailure.
func NewPublishFailure(id uint16, topic string, reason ReasonCode, reasonString string) *PublishFailure {
	return &PublishFailure{err: ErrPublishFailed, MessageID: id, Topic: topic, ReasonCode: reason, ReasonString: reasonString}
}

// SubscriptionDenied reports a SUBACK in which every filter was refused.
type SubscriptionDenied struct {
	err       error
	MessageID uint16
	Granted   []ReasonCode
}

func (e *SubscriptionDenied) Error() string { return "All subscription requests were denied." }

func (e *SubscriptionDenied) Unwrap() error { return e.err }

// NewSubscriptionDenied creates a new SubscriptionDenied.
func NewSubscriptionDenied(id uint16, granted []ReasonCode) *SubscriptionDenied {
	return &SubscriptionDenied{err: ErrSubscriptionDenied, MessageID: id, Granted: granted}
}

// Transport error classification codes, also used as process exit codes.
const (
	CodeProtocol = 2
	CodeNoConn   = 4
	CodeConnLost = 7
)

// TransportError wraps an I/O failure with its classification code.
type TransportError struct {
	err   error
	Op    string
	Code  int
	Cause error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("transport error")
	if e.Op != "" {
		b.WriteString(" during ")
		b.WriteString(e.Op)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() []error { return []error{e.err, e.Cause} }

// NewTransportError creates a new TransportError.
func NewTransportError(op string, code int, cause error) *TransportError {
	return &TransportError{err: ErrTransport, Op: op, Code: code, Cause: cause}
}

// DisconnectError reports a broker-initiated or failed disconnection.
type DisconnectError struct {
	err        error
	ReasonCode ReasonCode
	Properties *Properties
	Remote     bool
}

func (e *DisconnectError) Error() string {
	if e.Remote {
		return "server disconnect: " + e.ReasonCode.String()
	}
	return "disconnected: " + e.ReasonCode.String()
}

func (e *DisconnectError) Unwrap() error { return e.err }

// NewDisconnectError creates a new DisconnectError.
func NewDisconnectError(reason ReasonCode, props *Properties, remote bool) *DisconnectError {
	return &DisconnectError{err: ErrServerDisconnect, ReasonCode: reason, Properties: props, Remote: remote}
}

// PublishError reports a publish request the transport refused to send.
type PublishError struct {
	Topic string
	Cause error
}

func (e *PublishError) Error() string {
	var te *TransportError
	switch {
	case errors.Is(e.Cause, ErrInvalidTopicName), errors.Is(e.Cause, ErrEmptyTopic):
		return "Error: Invalid input. Does your topic contain '+' or '#'?"
	case errors.Is(e.Cause, ErrNotConnected):
		return "Error: Client not connected when trying to publish."
	case errors.Is(e.Cause, ErrPacketTooLarge), errors.Is(e.Cause, ErrBinaryTooLong):
		return "Error: Message payload is too large."
	case errors.Is(e.Cause, ErrInvalidQoS):
		return "Error: Message QoS not supported on broker, try a lower QoS."
	case errors.As(e.Cause, &te) && te.Code == CodeProtocol:
		return "Error: Protocol error when communicating with broker."
	}
	return "Error: Publish returned " + e.Cause.Error() + "."
}

func (e *PublishError) Unwrap() error { return e.Cause }
