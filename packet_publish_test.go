package mqttsession

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishPacketRoundTrip(t *testing.T) {
	props := &Properties{}
	props.Add(PropContentType, "application/msgpack")
	props.Add(PropUserProperty, StringPair{Key: "k", Value: "v"})

	tests := []struct {
		name    string
		version ProtocolVersion
		packet  *PublishPacket
	}{
		{"qos0", ProtocolV311, &PublishPacket{Topic: "EXAMPLE_TOPIC", Payload: []byte("hello")}},
		{"qos1 retain", ProtocolV311, &PublishPacket{Topic: "a/b", PacketID: 7, QoS: 1, Retain: true, Payload: []byte("x")}},
		{"dup", ProtocolV311, &PublishPacket{Topic: "a/b", PacketID: 8, QoS: 1, DUP: true}},
		{"v5 properties", ProtocolV5, &PublishPacket{Topic: "a", PacketID: 1, QoS: 1, Props: props, Payload: []byte{0x82}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := roundTrip(t, tt.packet, tt.version).(*PublishPacket)
			require.True(t, ok)

			assert.Equal(t, tt.packet.Topic, got.Topic)
			assert.Equal(t, tt.packet.PacketID, got.PacketID)
			assert.Equal(t, tt.packet.QoS, got.QoS)
			assert.Equal(t, tt.packet.Retain, got.Retain)
			assert.Equal(t, tt.packet.DUP, got.DUP)
			assert.Equal(t, len(tt.packet.Payload), len(got.Payload))
			if tt.version == ProtocolV5 {
				assert.Equal(t, "application/msgpack", got.Props.GetString(PropContentType))
				assert.Equal(t, []StringPair{{Key: "k", Value: "v"}}, got.Props.GetAllStringPairs(PropUserProperty))
			}
		})
	}
}

func TestPublishPacketQoS0HasNoPacketID(t *testing.T) {
	var buf bytes.Buffer
	_, err := WritePacket(&buf, &PublishPacket{Topic: "t", PacketID: 99, Payload: []byte("p")}, ProtocolV311, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x30, 0x04, 0x00, 0x01, 't', 'p'}, buf.Bytes())
}

func TestPublishPacketInvalidQoS(t *testing.T) {
	_, err := WritePacket(&bytes.Buffer{}, &PublishPacket{Topic: "t", QoS: 3}, ProtocolV5, 0)
	assert.ErrorIs(t, err, ErrInvalidQoS)
}

func TestPubackPacket(t *testing.T) {
	t.Run("v311 has only the id", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := WritePacket(&buf, &PubackPacket{PacketID: 0x0102, ReasonCode: ReasonQuotaExceeded}, ProtocolV311, 0)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x40, 0x02, 0x01, 0x02}, buf.Bytes())
	})

	t.Run("v5 success is short", func(t *testing.T) {
		got, ok := roundTrip(t, &PubackPacket{PacketID: 3}, ProtocolV5).(*PubackPacket)
		require.True(t, ok)
		assert.Equal(t, uint16(3), got.PacketID)
		assert.Equal(t, ReasonSuccess, got.ReasonCode)
	})

	t.Run("v5 failure with reason string", func(t *testing.T) {
		props := &Properties{}
		props.Set(PropReasonString, "quota")

		got, ok := roundTrip(t, &PubackPacket{PacketID: 4, ReasonCode: ReasonNotAuthorized, Props: props}, ProtocolV5).(*PubackPacket)
		require.True(t, ok)
		assert.Equal(t, ReasonNotAuthorized, got.ReasonCode)
		assert.Equal(t, "quota", got.Props.GetString(PropReasonString))
	})

	t.Run("v5 reason code without properties", func(t *testing.T) {
		packet, _, err := ReadPacket(bytes.NewReader([]byte{0x40, 0x03, 0x00, 0x05, 0x87}), ProtocolV5, 0)
		require.NoError(t, err)
		ack := packet.(*PubackPacket)
		assert.Equal(t, ReasonNotAuthorized, ack.ReasonCode)
		assert.Nil(t, ack.Props)
	})
}
