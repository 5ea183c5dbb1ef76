package mqttsession

import (
	"bytes"
	"errors"
)

// ErrEmptySubscription is returned for SUBSCRIBE/UNSUBSCRIBE without filters.
var ErrEmptySubscription = errors.New("subscription request without topic filters")

// SubscribeOptions are applied to every filter of one SUBSCRIBE request.
// Only QoS is sent to 3.1.1 brokers.
type SubscribeOptions struct {
	QoS               byte `yaml:"qos"`
	NoLocal           bool `yaml:"no_local"`
	RetainAsPublished bool `yaml:"retain_as_published"`
	RetainHandling    byte `yaml:"retain_handling"`
}

func (o SubscribeOptions) encode(version ProtocolVersion) byte {
	b := o.QoS & 0x03
	if version != ProtocolV5 {
		return b
	}
	if o.NoLocal {
		b |= 0x04
	}
	if o.RetainAsPublished {
		b |= 0x08
	}
	return b | (o.RetainHandling&0x03)<<4
}

func decodeSubscribeOptions(b byte) SubscribeOptions {
	return SubscribeOptions{
		QoS:               b & 0x03,
		NoLocal:           b&0x04 != 0,
		RetainAsPublished: b&0x08 != 0,
		RetainHandling:    (b >> 4) & 0x03,
	}
}

// SubscribePacket requests one or more subscriptions sharing the same options.
type SubscribePacket struct {
	PacketID uint16
	Filters  []string
	Options  SubscribeOptions
	Props    *Properties
}

func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

func (p *SubscribePacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	if len(p.Filters) == 0 {
		return 0, ErrEmptySubscription
	}
	if _, err := encodeUint16(buf, p.PacketID); err != nil {
		return 0, err
	}
	if version == ProtocolV5 {
		if _, err := p.Props.Encode(buf); err != nil {
			return 0, err
		}
	}

	opts := p.Options.encode(version)
	for _, filter := range p.Filters {
		if _, err := encodeString(buf, filter); err != nil {
			return 0, err
		}
		buf.WriteByte(opts)
	}

	return 0x02, nil
}

func (p *SubscribePacket) decodeBody(r *bytes.Reader, _ FixedHeader, version ProtocolVersion) error {
	var err error
	if p.PacketID, _, err = decodeUint16(r); err != nil {
		return err
	}
	if version == ProtocolV5 {
		p.Props = &Properties{}
		if _, err := p.Props.Decode(r); err != nil {
			return err
		}
	}

	for r.Len() > 0 {
		filter, _, err := decodeString(r)
		if err != nil {
			return err
		}
		opts, err := readByte(r)
		if err != nil {
			return err
		}
		p.Filters = append(p.Filters, filter)
		p.Options = decodeSubscribeOptions(opts)
	}

	if len(p.Filters) == 0 {
		return ErrEmptySubscription
	}
	return nil
}

// SubackPacket carries one granted QoS or failure code per requested filter.
type SubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       *Properties
}

func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

func (p *SubackPacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	return 0, encodeAckList(buf, version, p.PacketID, p.Props, p.ReasonCodes, true)
}

func (p *SubackPacket) decodeBody(r *bytes.Reader, _ FixedHeader, version ProtocolVersion) error {
	var err error
	p.PacketID, p.Props, p.ReasonCodes, err = decodeAckList(r, version)
	return err
}

// UnsubscribePacket requests removal of one or more subscriptions.
type UnsubscribePacket struct {
	PacketID uint16
	Filters  []string
	Props    *Properties
}

func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

func (p *UnsubscribePacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	if len(p.Filters) == 0 {
		return 0, ErrEmptySubscription
	}
	if _, err := encodeUint16(buf, p.PacketID); err != nil {
		return 0, err
	}
	if version == ProtocolV5 {
		if _, err := p.Props.Encode(buf); err != nil {
			return 0, err
		}
	}
	for _, filter := range p.Filters {
		if _, err := encodeString(buf, filter); err != nil {
			return 0, err
		}
	}
	return 0x02, nil
}

func (p *UnsubscribePacket) decodeBody(r *bytes.Reader, _ FixedHeader, version ProtocolVersion) error {
	var err error
	if p.PacketID, _, err = decodeUint16(r); err != nil {
		return err
	}
	if version == ProtocolV5 {
		p.Props = &Properties{}
		if _, err := p.Props.Decode(r); err != nil {
			return err
		}
	}
	for r.Len() > 0 {
		filter, _, err := decodeString(r)
		if err != nil {
			return err
		}
		p.Filters = append(p.Filters, filter)
	}
	if len(p.Filters) == 0 {
		return ErrEmptySubscription
	}
	return nil
}

// UnsubackPacket acknowledges UNSUBSCRIBE. 3.1.1 brokers send no codes.
type UnsubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       *Properties
}

func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

func (p *UnsubackPacket) encodeBody(buf *bytes.Buffer, version ProtocolVersion) (byte, error) {
	return 0, encodeAckList(buf, version, p.PacketID, p.Props, p.ReasonCodes, false)
}

func (p *UnsubackPacket) decodeBody(r *bytes.Reader, _ FixedHeader, version ProtocolVersion) error {
	var err error
	p.PacketID, p.Props, p.ReasonCodes, err = decodeAckList(r, version)
	return err
}

func encodeAckList(buf *bytes.Buffer, version ProtocolVersion, id uint16, props *Properties, codes []ReasonCode, codesInV311 bool) error {
	if _, err := encodeUint16(buf, id); err != nil {
		return err
	}
	if version == ProtocolV5 {
		if _, err := props.Encode(buf); err != nil {
			return err
		}
	} else if !codesInV311 {
		return nil
	}
	for _, code := range codes {
		buf.WriteByte(byte(code))
	}
	return nil
}

func decodeAckList(r *bytes.Reader, version ProtocolVersion) (uint16, *Properties, []ReasonCode, error) {
	id, _, err := decodeUint16(r)
	if err != nil {
		return 0, nil, nil, err
	}

	var props *Properties
	if version == ProtocolV5 {
		props = &Properties{}
		if _, err := props.Decode(r); err != nil {
			return 0, nil, nil, err
		}
	}

	codes := make([]ReasonCode, 0, r.Len())
	for r.Len() > 0 {
		b, _ := r.ReadByte()
		codes = append(codes, ReasonCode(b))
	}

	return id, props, codes, nil
}
