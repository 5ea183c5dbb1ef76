package mqttsession

import (
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProtocolVersion is the MQTT protocol level sent in CONNECT.
type ProtocolVersion byte

const (
	ProtocolV311 ProtocolVersion = 4
	ProtocolV5   ProtocolVersion = 5
)

func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV311:
		return "3.1.1"
	case ProtocolV5:
		return "5"
	default:
		return "unknown(" + strconv.Itoa(int(v)) + ")"
	}
}

// ParseProtocolVersion accepts "5", "v5", "mqttv5", "311", "3.1.1", "v311", "mqttv311".
func ParseProtocolVersion(s string) (ProtocolVersion, bool) {
	switch s {
	case "5", "v5", "mqttv5":
		return ProtocolV5, true
	case "4", "311", "3.1.1", "v311", "mqttv311":
		return ProtocolV311, true
	}
	return 0, false
}

// UnmarshalYAML lets configuration files name the version as text.
func (v *ProtocolVersion) UnmarshalYAML(node *yaml.Node) error {
	parsed, ok := ParseProtocolVersion(node.Value)
	if node.Kind != yaml.ScalarNode || !ok {
		return NewConfigError("protocol_version", "unknown protocol version "+strconv.Quote(node.Value))
	}
	*v = parsed
	return nil
}

// ReasonCode is an MQTT v5.0 reason code, or a v3.1.1 CONNACK return code /
// SUBACK return value when the session speaks 3.1.1.
type ReasonCode byte

const (
	ReasonSuccess                    ReasonCode = 0x00
	ReasonGrantedQoS1                ReasonCode = 0x01
	ReasonGrantedQoS2                ReasonCode = 0x02
	ReasonDisconnectWithWill         ReasonCode = 0x04
	ReasonNoMatchingSubscribers      ReasonCode = 0x10
	ReasonNoSubscriptionExisted      ReasonCode = 0x11
	ReasonUnspecifiedError           ReasonCode = 0x80
	ReasonMalformedPacket            ReasonCode = 0x81
	ReasonProtocolError              ReasonCode = 0x82
	ReasonImplSpecificError          ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion ReasonCode = 0x84
	ReasonClientIDNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword      ReasonCode = 0x86
	ReasonNotAuthorized              ReasonCode = 0x87
	ReasonServerUnavailable          ReasonCode = 0x88
	ReasonServerBusy                 ReasonCode = 0x89
	ReasonBanned                     ReasonCode = 0x8A
	ReasonServerShuttingDown         ReasonCode = 0x8B
	ReasonBadAuthMethod              ReasonCode = 0x8C
	ReasonKeepAliveTimeout           ReasonCode = 0x8D
	ReasonSessionTakenOver           ReasonCode = 0x8E
	ReasonTopicFilterInvalid         ReasonCode = 0x8F
	ReasonTopicNameInvalid           ReasonCode = 0x90
	ReasonPacketIDInUse              ReasonCode = 0x91
	ReasonPacketIDNotFound           ReasonCode = 0x92
	ReasonReceiveMaxExceeded         ReasonCode = 0x93
	ReasonTopicAliasInvalid          ReasonCode = 0x94
	ReasonPacketTooLarge             ReasonCode = 0x95
	ReasonMessageRateTooHigh         ReasonCode = 0x96
	ReasonQuotaExceeded              ReasonCode = 0x97
	ReasonAdminAction                ReasonCode = 0x98
	ReasonPayloadFormatInvalid       ReasonCode = 0x99
	ReasonRetainNotSupported         ReasonCode = 0x9A
	ReasonQoSNotSupported            ReasonCode = 0x9B
	ReasonUseAnotherServer           ReasonCode = 0x9C
	ReasonServerMoved                ReasonCode = 0x9D
	ReasonSharedSubsNotSupported     ReasonCode = 0x9E
	ReasonConnectionRateExceeded     ReasonCode = 0x9F
	ReasonMaxConnectTime             ReasonCode = 0xA0
	ReasonSubIDsNotSupported         ReasonCode = 0xA1
	ReasonWildcardSubsNotSupported   ReasonCode = 0xA2
)

// v3.1.1 CONNACK return codes.
const (
	ConnackAccepted                 ReasonCode = 0x00
	ConnackRefusedProtocolVersion   ReasonCode = 0x01
	ConnackRefusedIdentifier        ReasonCode = 0x02
	ConnackRefusedServerUnavailable ReasonCode = 0x03
	ConnackRefusedBadCredentials    ReasonCode = 0x04
	ConnackRefusedNotAuthorized     ReasonCode = 0x05
)

var reasonCodeStrings = map[ReasonCode]string{
	ReasonSuccess:                    "Success",
	ReasonGrantedQoS1:                "Granted QoS 1",
	ReasonGrantedQoS2:                "Granted QoS 2",
	ReasonDisconnectWithWill:         "Disconnect with Will Message",
	ReasonNoMatchingSubscribers:      "No matching subscribers",
	ReasonNoSubscriptionExisted:      "No subscription existed",
	ReasonUnspecifiedError:           "Unspecified error",
	ReasonMalformedPacket:            "Malformed Packet",
	ReasonProtocolError:              "Protocol Error",
	ReasonImplSpecificError:          "Implementation specific error",
	ReasonUnsupportedProtocolVersion: "Unsupported Protocol Version",
	ReasonClientIDNotValid:           "Client Identifier not valid",
	ReasonBadUserNameOrPassword:      "Bad User Name or Password",
	ReasonNotAuthorized:              "Not authorized",
	ReasonServerUnavailable:          "Server unavailable",
	ReasonServerBusy:                 "Server busy",
	ReasonBanned:                     "Banned",
	ReasonServerShuttingDown:         "Server shutting down",
	ReasonBadAuthMethod:              "Bad authentication method",
	ReasonKeepAliveTimeout:           "Keep Alive timeout",
	ReasonSessionTakenOver:           "Session taken over",
	ReasonTopicFilterInvalid:         "Topic Filter invalid",
	ReasonTopicNameInvalid:           "Topic Name invalid",
	ReasonPacketIDInUse:              "Packet Identifier in use",
	ReasonPacketIDNotFound:           "Packet Identifier not found",
	ReasonReceiveMaxExceeded:         "Receive Maximum exceeded",
	ReasonTopicAliasInvalid:          "Topic Alias invalid",
	ReasonPacketTooLarge:             "Packet too large",
	ReasonMessageRateTooHigh:         "Message rate too high",
	ReasonQuotaExceeded:              "Quota exceeded",
	ReasonAdminAction:                "Administrative action",
	ReasonPayloadFormatInvalid:       "Payload format invalid",
	ReasonRetainNotSupported:         "Retain not supported",
	ReasonQoSNotSupported:            "QoS not supported",
	ReasonUseAnotherServer:           "Use another server",
	ReasonServerMoved:                "Server moved",
	ReasonSharedSubsNotSupported:     "Shared Subscriptions not supported",
	ReasonConnectionRateExceeded:     "Connection rate exceeded",
	ReasonMaxConnectTime:             "Maximum connect time",
	ReasonSubIDsNotSupported:         "Subscription Identifiers not supported",
	ReasonWildcardSubsNotSupported:   "Wildcard Subscriptions not supported",
}

var connackStrings = map[ReasonCode]string{
	ConnackAccepted:                 "Connection Accepted.",
	ConnackRefusedProtocolVersion:   "Connection Refused: unacceptable protocol version.",
	ConnackRefusedIdentifier:        "Connection Refused: identifier rejected.",
	ConnackRefusedServerUnavailable: "Connection Refused: broker unavailable.",
	ConnackRefusedBadCredentials:    "Connection Refused: bad user name or password.",
	ConnackRefusedNotAuthorized:     "Connection Refused: not authorised.",
}

// String returns the MQTT v5.0 reason string.
func (r ReasonCode) String() string {
	if s, ok := reasonCodeStrings[r]; ok {
		return s
	}
	return "Unknown reason code"
}

// ConnackString returns the MQTT v3.1.1 CONNACK return code text.
func (r ReasonCode) ConnackString() string {
	if s, ok := connackStrings[r]; ok {
		return s
	}
	return "Connection Refused: unknown reason."
}

// ConnackText picks the vocabulary matching the protocol version.
func (r ReasonCode) ConnackText(version ProtocolVersion) string {
	if version == ProtocolV5 {
		return r.String()
	}
	return r.ConnackString()
}

// IsError reports a failure code (0x80 and above).
func (r ReasonCode) IsError() bool {
	return r >= 0x80
}

// IsSuccess reports a non-failure code.
func (r ReasonCode) IsSuccess() bool {
	return r < 0x80
}
