package mqttsession

import (
	"bytes"
	"errors"
	"io"
)

// PacketType represents an MQTT control packet type. It doubles as the
// packet kind that property sets are validated against.
type PacketType byte

// MQTT control packet types.
const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
	PacketAUTH        PacketType = 15
)

var packetTypeNames = [...]string{
	"UNKNOWN", "CONNECT", "CONNACK", "PUBLISH", "PUBACK", "PUBREC", "PUBREL", "PUBCOMP",
	"SUBSCRIBE", "SUBACK", "UNSUBSCRIBE", "UNSUBACK", "PINGREQ", "PINGRESP", "DISCONNECT", "AUTH",
}

// String returns the string representation of the packet type.
func (p PacketType) String() string {
	if int(p) < len(packetTypeNames) {
		return packetTypeNames[p]
	}
	return "UNKNOWN"
}

// Valid returns true if the packet type is valid.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketAUTH
}

// Codec errors.
var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
	ErrPacketTooLarge     = errors.New("packet exceeds maximum size")
	ErrUnknownPacketType  = errors.New("unsupported packet type")
)

// FixedHeader is the first part of every MQTT control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Encode writes the fixed header to the writer.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if !h.PacketType.Valid() {
		return 0, ErrInvalidPacketType
	}

	n, err := w.Write([]byte{byte(h.PacketType)<<4 | h.Flags&0x0F})
	if err != nil {
		return n, err
	}

	n2, err := encodeVarint(w, h.RemainingLength)
	return n + n2, err
}

// Decode reads the fixed header from the reader.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	var buf [1]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		return n, err
	}

	h.PacketType = PacketType(buf[0] >> 4)
	h.Flags = buf[0] & 0x0F
	if !h.PacketType.Valid() {
		return n, ErrInvalidPacketType
	}

	length, n2, err := decodeVarint(r)
	n += n2
	if err != nil {
		return n, err
	}

	h.RemainingLength = length
	return n, nil
}

// ValidateFlags checks the reserved flag bits for the packet type.
func (h *FixedHeader) ValidateFlags() error {
	switch h.PacketType {
	case PacketPUBLISH:
		if (h.Flags>>1)&0x03 > 2 {
			return ErrInvalidPacketFlags
		}
	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		if h.Flags != 0x02 {
			return ErrInvalidPacketFlags
		}
	default:
		if h.Flags != 0 {
			return ErrInvalidPacketFlags
		}
	}
	return nil
}

// Packet is an MQTT control packet that can be framed for either protocol level.
type Packet interface {
	Type() PacketType
	encodeBody(buf *bytes.Buffer, version ProtocolVersion) (flags byte, err error)
	decodeBody(r *bytes.Reader, header FixedHeader, version ProtocolVersion) error
}

// WritePacket frames and writes a packet. A zero maxSize disables the size check.
func WritePacket(w io.Writer, packet Packet, version ProtocolVersion, maxSize uint32) (int, error) {
	body := getBuffer()
	defer putBuffer(body)

	flags, err := packet.encodeBody(body, version)
	if err != nil {
		return 0, err
	}

	header := FixedHeader{
		PacketType:      packet.Type(),
		Flags:           flags,
		RemainingLength: uint32(body.Len()),
	}

	frame := getBuffer()
	defer putBuffer(frame)

	if _, err := header.Encode(frame); err != nil {
		return 0, err
	}
	if maxSize > 0 && uint32(frame.Len()+body.Len()) > maxSize {
		return 0, ErrPacketTooLarge
	}
	frame.Write(body.Bytes())

	return w.Write(frame.Bytes())
}

// ReadPacket reads one complete packet. A zero maxSize disables the size check.
func ReadPacket(r io.Reader, version ProtocolVersion, maxSize uint32) (Packet, int, error) {
	var header FixedHeader
	n, err := header.Decode(r)
	if err != nil {
		return nil, n, err
	}

	if maxSize > 0 && header.RemainingLength > maxSize {
		return nil, n, ErrPacketTooLarge
	}
	if err := header.ValidateFlags(); err != nil {
		return nil, n, err
	}

	body := make([]byte, header.RemainingLength)
	rn, err := io.ReadFull(r, body)
	n += rn
	if err != nil {
		return nil, n, err
	}

	var packet Packet
	switch header.PacketType {
	case PacketCONNECT:
		packet = &ConnectPacket{}
	case PacketCONNACK:
		packet = &ConnackPacket{}
	case PacketPUBLISH:
		packet = &PublishPacket{}
	case PacketPUBACK:
		packet = &PubackPacket{}
	case PacketSUBSCRIBE:
		packet = &SubscribePacket{}
	case PacketSUBACK:
		packet = &SubackPacket{}
	case PacketUNSUBSCRIBE:
		packet = &UnsubscribePacket{}
	case PacketUNSUBACK:
		packet = &UnsubackPacket{}
	case PacketPINGREQ:
		packet = &PingreqPacket{}
	case PacketPINGRESP:
		packet = &PingrespPacket{}
	case PacketDISCONNECT:
		packet = &DisconnectPacket{}
	default:
		return nil, n, ErrUnknownPacketType
	}

	if err := packet.decodeBody(bytes.NewReader(body), header, version); err != nil {
		return nil, n, err
	}

	return packet, n, nil
}

// readProperties decodes a v5 property block when the body still has bytes.
func readProperties(r *bytes.Reader) (*Properties, error) {
	if r.Len() == 0 {
		return nil, nil
	}
	props := &Properties{}
	if _, err := props.Decode(r); err != nil {
		return nil, err
	}
	return props, nil
}

func readByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, ErrMalformedPacket
	}
	return b, nil
}
