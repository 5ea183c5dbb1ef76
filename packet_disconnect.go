package mqttsession

import "bytes"

// DisconnectPacket ends the session. 3.1.1 DISCONNECT has an empty body and
// is only sent by clients.
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Props      *Properties
}

func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	if version != ProtocolV5 || (p.ReasonCode == ReasonSuccess && p.Props.Len() == 0) {
		return 0, nil
	}

	buf.WriteByte(byte(p.ReasonCode))
	if p.Props.Len() > 0 {
		if _, err := p.Props.Encode(buf); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (p *DisconnectPacket) decodeBody(r *bytes.Reader, _ FixedHeader, version ProtocolVersion) error {
	if version != ProtocolV5 || r.Len() == 0 {
		return nil
	}

	code, err := readByte(r)
	if err != nil {
		return err
	}
	p.ReasonCode = ReasonCode(code)

	p.Props, err = readProperties(r)
	return err
}

// PingreqPacket keeps the connection alive.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

func (p *PingreqPacket) encodeBody(*bytes.Buffer, ProtocolVersion) (byte, error) { return 0, nil }

func (p *PingreqPacket) decodeBody(r *bytes.Reader, _ FixedHeader, _ ProtocolVersion) error {
	if r.Len() != 0 {
		return ErrMalformedPacket
	}
	return nil
}

// PingrespPacket answers PINGREQ.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

func (p *PingrespPacket) encodeBody(*bytes.Buffer, ProtocolVersion) (byte, error) { return 0, nil }

func (p *PingrespPacket) decodeBody(r *bytes.Reader, _ FixedHeader, _ ProtocolVersion) error {
	if r.Len() != 0 {
		return ErrMalformedPacket
	}
	return nil
}
