package mqttsession

import (
	"bytes"
	"errors"
	"io"
)

// ErrInvalidQoS is returned for QoS values other than 0, 1 and 2.
var ErrInvalidQoS = errors.New("invalid QoS level")

// PublishPacket carries an application message in either direction.
type PublishPacket struct {
	Topic    string
	PacketID uint16
	QoS      byte
	Retain   bool
	DUP      bool
	Payload  []byte
	Props    *Properties
}

func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

func (p *PublishPacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	if p.QoS > 2 {
		return 0, ErrInvalidQoS
	}

	var flags byte
	if p.DUP {
		flags |= 0x08
	}
	flags |= p.QoS << 1
	if p.Retain {
		flags |= 0x01
	}

	if _, err := encodeString(buf, p.Topic); err != nil {
		return 0, err
	}
	if p.QoS > 0 {
		if _, err := encodeUint16(buf, p.PacketID); err != nil {
			return 0, err
		}
	}
	if version == ProtocolV5 {
		if _, err := p.Props.Encode(buf); err != nil {
			return 0, err
		}
	}
	buf.Write(p.Payload)

	return flags, nil
}

func (p *PublishPacket) decodeBody(r *bytes.Reader, header FixedHeader, version ProtocolVersion) error {
	p.DUP = header.Flags&0x08 != 0
	p.QoS = (header.Flags >> 1) & 0x03
	p.Retain = header.Flags&0x01 != 0

	var err error
	if p.Topic, _, err = decodeString(r); err != nil {
		return err
	}
	if p.QoS > 0 {
		if p.PacketID, _, err = decodeUint16(r); err != nil {
			return err
		}
	}
	if version == ProtocolV5 {
		p.Props = &Properties{}
		if _, err := p.Props.Decode(r); err != nil {
			return err
		}
	}

	p.Payload, err = io.ReadAll(r)
	return err
}

// PubackPacket acknowledges a QoS 1 PUBLISH.
type PubackPacket struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      *Properties
}

func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

func (p *PubackPacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	if _, err := encodeUint16(buf, p.PacketID); err != nil {
		return 0, err
	}
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

func (p *PubackPacket) decodeBody(r *bytes.Reader, _ FixedHeader, version ProtocolVersion) error {
	var err error
	if p.PacketID, _, err = decodeUint16(r); err != nil {
		return err
	}
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
