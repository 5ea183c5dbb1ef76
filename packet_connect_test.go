package mqttsession

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectPacketRoundTrip(t *testing.T) {
	props := &Properties{}
	props.Add(PropSessionExpiryInterval, uint32(3600))
	props.Add(PropUserProperty, StringPair{Key: "origin", Value: "cli"})

	tests := []struct {
		name    string
		version ProtocolVersion
		packet  *ConnectPacket
	}{
		{
			name:    "v311 minimal",
			version: ProtocolV311,
			packet:  &ConnectPacket{ProtocolVersion: ProtocolV311, ClientID: "client-1", CleanSession: true, KeepAlive: 60},
		},
		{
			name:    "v311 credentials",
			version: ProtocolV311,
			packet: &ConnectPacket{
				ProtocolVersion: ProtocolV311, ClientID: "client-2", KeepAlive: 30,
				Username: "user", Password: []byte("secret"),
			},
		},
		{
			name:    "v311 empty password",
			version: ProtocolV311,
			packet:  &ConnectPacket{ProtocolVersion: ProtocolV311, Username: "user", Password: []byte{}, CleanSession: true},
		},
		{
			name:    "v5 properties",
			version: ProtocolV5,
			packet:  &ConnectPacket{ProtocolVersion: ProtocolV5, ClientID: "client-3", CleanSession: true, KeepAlive: 10, Props: props},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := roundTrip(t, tt.packet, tt.version).(*ConnectPacket)
			require.True(t, ok)

			assert.Equal(t, tt.packet.ProtocolVersion, got.ProtocolVersion)
			assert.Equal(t, tt.packet.ClientID, got.ClientID)
			assert.Equal(t, tt.packet.CleanSession, got.CleanSession)
			assert.Equal(t, tt.packet.KeepAlive, got.KeepAlive)
			assert.Equal(t, tt.packet.Username, got.Username)
			assert.Equal(t, tt.packet.Password, got.Password)
			assert.Equal(t, tt.packet.Props.Len(), got.Props.Len())
		})
	}
}

func TestConnectPacketWire(t *testing.T) {
	var buf bytes.Buffer
	_, err := WritePacket(&buf, &ConnectPacket{ClientID: "ab", CleanSession: true, KeepAlive: 60}, ProtocolV311, 0)
	require.NoError(t, err)

	want := []byte{
		0x10, 0x0E,
		0x00, 0x04, 'M', 'Q', 'T', 'T',
		0x04,
		0x02,
		0x00, 0x3C,
		0x00, 0x02, 'a', 'b',
	}
	assert.Equal(t, want, buf.Bytes())
}

func TestConnectPacketDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{"protocol name", []byte{0x00, 0x04, 'M', 'Q', 'I', 'T', 0x04, 0x02, 0x00, 0x3C, 0x00, 0x00}, ErrInvalidProtocolName},
		{"protocol level", []byte{0x00, 0x04, 'M', 'Q', 'T', 'T', 0x03, 0x02, 0x00, 0x3C, 0x00, 0x00}, ErrInvalidProtocolVersion},
		{"reserved flag", []byte{0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04, 0x03, 0x00, 0x3C, 0x00, 0x00}, ErrInvalidConnectFlags},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := append([]byte{0x10, byte(len(tt.body))}, tt.body...)
			_, _, err := ReadPacket(bytes.NewReader(frame), ProtocolV311, 0)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConnackPacket(t *testing.T) {
	t.Run("v311 return code", func(t *testing.T) {
		got, ok := roundTrip(t, &ConnackPacket{ReasonCode: ConnackRefusedNotAuthorized}, ProtocolV311).(*ConnackPacket)
		require.True(t, ok)
		assert.Equal(t, ConnackRefusedNotAuthorized, got.ReasonCode)
		assert.Nil(t, got.Props)
	})

	t.Run("v5 server keep alive", func(t *testing.T) {
		props := &Properties{}
		props.Set(PropServerKeepAlive, uint16(20))

		got, ok := roundTrip(t, &ConnackPacket{SessionPresent: true, Props: props}, ProtocolV5).(*ConnackPacket)
		require.True(t, ok)
		assert.True(t, got.SessionPresent)
		assert.Equal(t, ReasonSuccess, got.ReasonCode)
		assert.Equal(t, uint16(20), got.Props.GetUint16(PropServerKeepAlive))
	})

	t.Run("truncated", func(t *testing.T) {
		_, _, err := ReadPacket(bytes.NewReader([]byte{0x20, 0x01, 0x00}), ProtocolV311, 0)
		assert.ErrorIs(t, err, ErrMalformedPacket)
	})
}
