package mqttsession

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"config", NewConfigError("port", "port 0 out of range 1-65535"), "Error: port: port 0 out of range 1-65535"},
		{"config without field", NewConfigError("", "missing configuration"), "Error: missing configuration"},
		{"v311 connect", NewConnectError(ConnackRefusedIdentifier, ProtocolV311, nil), "Connection error: Connection Refused: identifier rejected."},
		{"v5 connect", NewConnectError(ReasonBadUserNameOrPassword, ProtocolV5, nil), "Connection error: Bad User Name or Password"},
		{
			"v5 unsupported version",
			NewConnectError(ReasonUnsupportedProtocolVersion, ProtocolV5, nil),
			"Connection error: Unsupported Protocol Version. Try connecting to an MQTT v5 broker, or use MQTT v3.x mode.",
		},
		{"malformed utf-8 filter", NewTopicValidationError("x", false, ErrMalformedUTF8), "Error: Malformed UTF-8 in argument."},
		{"publish failure", NewPublishFailure(12, "t", ReasonPayloadFormatInvalid, "bad"), "Warning: Publish 12 failed: Payload format invalid. bad"},
		{"transport", NewTransportError("read", CodeConnLost, errors.New("EOF")), "transport error during read: EOF"},
		{"transport without op", NewTransportError("", CodeNoConn, nil), "transport error"},
		{"server disconnect", NewDisconnectError(ReasonServerShuttingDown, nil, true), "server disconnect: Server shutting down"},
		{"local disconnect", NewDisconnectError(ReasonUnspecifiedError, nil, false), "disconnected: Unspecified error"},
		{"properties", NewProtocolNegotiationError(PacketCONNECT, ErrDuplicateProperty), "Error in CONNECT properties: duplicate property not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
	}{
		{NewConfigError("f", "r"), ErrConfig},
		{NewProtocolNegotiationError(PacketPUBLISH, ErrPropertyNotAllowed), ErrProtocolNegotiation},
		{NewConnectError(ReasonNotAuthorized, ProtocolV5, nil), ErrConnectRefused},
		{NewTopicValidationError("#/a", false, ErrInvalidTopicFilter), ErrTopicValidation},
		{NewPublishFailure(1, "t", ReasonQuotaExceeded, ""), ErrPublishFailed},
		{NewSubscriptionDenied(1, []ReasonCode{ReasonUnspecifiedError}), ErrSubscriptionDenied},
		{NewTransportError("write", CodeProtocol, nil), ErrTransport},
		{NewDisconnectError(ReasonAdminAction, nil, true), ErrServerDisconnect},
	}

	for _, tt := range tests {
		wrapped := fmt.Errorf("context: %w", tt.err)
		assert.ErrorIs(t, wrapped, tt.sentinel, tt.err.Error())
	}

	te := NewTransportError("read", CodeConnLost, ErrMalformedPacket)
	assert.ErrorIs(t, te, ErrMalformedPacket, "cause stays reachable")
}

func TestPublishErrorMessages(t *testing.T) {
	tests := []struct {
		name  string
		cause error
		want  string
	}{
		{"wildcard topic", ErrInvalidTopicName, "Error: Invalid input. Does your topic contain '+' or '#'?"},
		{"empty topic", ErrEmptyTopic, "Error: Invalid input. Does your topic contain '+' or '#'?"},
		{"not connected", ErrNotConnected, "Error: Client not connected when trying to publish."},
		{"too large", ErrPacketTooLarge, "Error: Message payload is too large."},
		{"qos", ErrInvalidQoS, "Error: Message QoS not supported on broker, try a lower QoS."},
		{"protocol", NewTransportError("write", CodeProtocol, nil), "Error: Protocol error when communicating with broker."},
		{"other", errors.New("socket closed"), "Error: Publish returned socket closed."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &PublishError{Topic: "t", Cause: tt.cause}
			assert.EqualError(t, err, tt.want)
			assert.ErrorIs(t, err, tt.cause)
		})
	}
}

func TestSubscriptionDeniedDetails(t *testing.T) {
	err := fmt.Errorf("suback: %w", NewSubscriptionDenied(4, []ReasonCode{ReasonNotAuthorized}))

	var sd *SubscriptionDenied
	require.ErrorAs(t, err, &sd)
	assert.Equal(t, uint16(4), sd.MessageID)
	assert.Equal(t, []ReasonCode{ReasonNotAuthorized}, sd.Granted)
}
