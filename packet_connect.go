package mqttsession

import (
	"bytes"
	"errors"
	"io"
)

const protocolName = "MQTT"

const (
	connectFlagCleanSession = 0x02
	connectFlagPassword     = 0x40
	connectFlagUsername     = 0x80
)

// CONNECT errors.
var (
	ErrInvalidProtocolName    = errors.New("invalid protocol name")
	ErrInvalidProtocolVersion = errors.New("unsupported protocol version")
	ErrInvalidConnectFlags    = errors.New("invalid connect flags")
)

// ConnectPacket is the first packet a client sends.
type ConnectPacket struct {
	ProtocolVersion ProtocolVersion
	ClientID        string
	CleanSession    bool
	KeepAlive       uint16
	Username        string
	Password        []byte
	Props           *Properties
}

func (p *ConnectPacket) Type() PacketType { return PacketCONNECT }

func (p *ConnectPacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	if _, err := encodeString(buf, protocolName); err != nil {
		return 0, err
	}
	buf.WriteByte(byte(version))

	var flags byte
	if p.CleanSession {
		flags |= connectFlagCleanSession
	}
	if p.Username != "" {
		flags |= connectFlagUsername
	}
	if p.Password != nil {
		flags |= connectFlagPassword
	}
	buf.WriteByte(flags)

	if _, err := encodeUint16(buf, p.KeepAlive); err != nil {
		return 0, err
	}
	if version == ProtocolV5 {
		if _, err := p.Props.Encode(buf); err != nil {
			return 0, err
		}
	}
	if _, err := encodeString(buf, p.ClientID); err != nil {
		return 0, err
	}
	if p.Username != "" {
		if _, err := encodeString(buf, p.Username); err != nil {
			return 0, err
		}
	}
	if p.Password != nil {
		if _, err := encodeBinary(buf, p.Password); err != nil {
			return 0, err
		}
	}

	return 0, nil
}

func (p *ConnectPacket) decodeBody(r *bytes.Reader, _ FixedHeader, _ ProtocolVersion) error {
	name, _, err := decodeString(r)
	if err != nil {
		return err
	}
	if name != protocolName {
		return ErrInvalidProtocolName
	}

	level, err := readByte(r)
	if err != nil {
		return err
	}
	p.ProtocolVersion = ProtocolVersion(level)
	if p.ProtocolVersion != ProtocolV311 && p.ProtocolVersion != ProtocolV5 {
		return ErrInvalidProtocolVersion
	}

	flags, err := readByte(r)
	if err != nil {
		return err
	}
	if flags&0x01 != 0 || flags&0x04 != 0 {
		return ErrInvalidConnectFlags
	}
	p.CleanSession = flags&connectFlagCleanSession != 0

	if p.KeepAlive, _, err = decodeUint16(r); err != nil {
		return err
	}
	if p.ProtocolVersion == ProtocolV5 {
		p.Props = &Properties{}
		if _, err := p.Props.Decode(r); err != nil {
			return err
		}
	}
	if p.ClientID, _, err = decodeString(r); err != nil {
		return err
	}
	if flags&connectFlagUsername != 0 {
		if p.Username, _, err = decodeString(r); err != nil {
			return err
		}
	}
	if flags&connectFlagPassword != 0 {
		if p.Password, _, err = decodeBinary(r); err != nil {
			return err
		}
		if p.Password == nil {
			p.Password = []byte{}
		}
	}

	return nil
}

// ConnackPacket is the broker's answer to CONNECT. In 3.1.1 the reason code
// carries the CONNACK return code.
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Props          *Properties
}

func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	var flags byte
	if p.SessionPresent {
		flags = 0x01
	}
	buf.WriteByte(flags)
	buf.WriteByte(byte(p.ReasonCode))

	if version == ProtocolV5 {
		if _, err := p.Props.Encode(buf); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

func (p *ConnackPacket) decodeBody(r *bytes.Reader, _ FixedHeader, version ProtocolVersion) error {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return ErrMalformedPacket
	}
	p.SessionPresent = head[0]&0x01 != 0
	p.ReasonCode = ReasonCode(head[1])

	if version == ProtocolV5 {
		props, err := readProperties(r)
		if err != nil {
			return err
		}
		p.Props = props
	}
	return nil
}
