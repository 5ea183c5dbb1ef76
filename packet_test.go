package mqttsession

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip frames packet and reads it back at the given protocol level.
func roundTrip(t *testing.T, packet Packet, version ProtocolVersion) Packet {
	t.Helper()

	var buf bytes.Buffer
	n, err := WritePacket(&buf, packet, version, 0)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	got, rn, err := ReadPacket(&buf, version, 0)
	require.NoError(t, err)
	assert.Equal(t, n, rn)
	assert.Zero(t, buf.Len(), "reader must consume the whole frame")
	return got
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "CONNECT", PacketCONNECT.String())
	assert.Equal(t, "UNSUBACK", PacketUNSUBACK.String())
	assert.True(t, PacketAUTH.Valid())
	assert.False(t, PacketType(0).Valid())
}

func TestFixedHeader(t *testing.T) {
	tests := []struct {
		name   string
		header FixedHeader
		wire   []byte
	}{
		{"pingreq", FixedHeader{PacketType: PacketPINGREQ}, []byte{0xC0, 0x00}},
		{"subscribe", FixedHeader{PacketType: PacketSUBSCRIBE, Flags: 0x02, RemainingLength: 10}, []byte{0x82, 0x0A}},
		{"publish qos1 retain", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x03, RemainingLength: 200}, []byte{0x33, 0xC8, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			_, err := tt.header.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.wire, buf.Bytes())

			var got FixedHeader
			_, err = got.Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.header, got)
			assert.NoError(t, got.ValidateFlags())
		})
	}
}

func TestFixedHeaderValidateFlags(t *testing.T) {
	tests := []struct {
		name   string
		header FixedHeader
	}{
		{"publish qos3", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x06}},
		{"subscribe reserved", FixedHeader{PacketType: PacketSUBSCRIBE}},
		{"connack flags", FixedHeader{PacketType: PacketCONNACK, Flags: 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.header.ValidateFlags(), ErrInvalidPacketFlags)
		})
	}
}

func TestFixedHeaderInvalidType(t *testing.T) {
	var h FixedHeader
	_, err := h.Decode(bytes.NewReader([]byte{0x00, 0x00}))
	assert.ErrorIs(t, err, ErrInvalidPacketType)

	_, err = (&FixedHeader{}).Encode(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrInvalidPacketType)
}

func TestWritePacketMaxSize(t *testing.T) {
	packet := &PublishPacket{Topic: "a/b", Payload: bytes.Repeat([]byte{'x'}, 100)}

	var buf bytes.Buffer
	_, err := WritePacket(&buf, packet, ProtocolV311, 50)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Zero(t, buf.Len())

	_, err = WritePacket(&buf, packet, ProtocolV311, 200)
	require.NoError(t, err)

	_, _, err = ReadPacket(bytes.NewReader(buf.Bytes()), ProtocolV311, 50)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestReadPacketTruncated(t *testing.T) {
	_, _, err := ReadPacket(bytes.NewReader([]byte{0x30, 0x10, 0x00}), ProtocolV311, 0)
	assert.Error(t, err)
}

func TestReadPacketUnsupportedType(t *testing.T) {
	_, _, err := ReadPacket(bytes.NewReader([]byte{0xF0, 0x00}), ProtocolV5, 0)
	assert.ErrorIs(t, err, ErrUnknownPacketType)
}

func TestPingPackets(t *testing.T) {
	assert.IsType(t, &PingreqPacket{}, roundTrip(t, &PingreqPacket{}, ProtocolV311))
	assert.IsType(t, &PingrespPacket{}, roundTrip(t, &PingrespPacket{}, ProtocolV5))

	_, _, err := ReadPacket(bytes.NewReader([]byte{0xD0, 0x01, 0x00}), ProtocolV5, 0)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
