package mqttsession

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// PropertyID represents an MQTT v5.0 property identifier.
type PropertyID byte

// Property identifiers as defined in MQTT v5.0 specification.
const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// PropertyType represents the data type of a property value.
type PropertyType byte

const (
	PropTypeByte        PropertyType = 0 // uint8
	PropTypeTwoByteInt  PropertyType = 1 // uint16
	PropTypeFourByteInt PropertyType = 2 // uint32
	PropTypeVarInt      PropertyType = 3 // uint32, varint on the wire
	PropTypeString      PropertyType = 4
	PropTypeBinary      PropertyType = 5
	PropTypeStringPair  PropertyType = 6
)

type propertyInfo struct {
	name       string
	typ        PropertyType
	repeatable bool
}

var propertyInfos = map[PropertyID]propertyInfo{
	PropPayloadFormatIndicator:   {"payload-format-indicator", PropTypeByte, false},
	PropMessageExpiryInterval:    {"message-expiry-interval", PropTypeFourByteInt, false},
	PropContentType:              {"content-type", PropTypeString, false},
	PropResponseTopic:            {"response-topic", PropTypeString, false},
	PropCorrelationData:          {"correlation-data", PropTypeBinary, false},
	PropSubscriptionIdentifier:   {"subscription-identifier", PropTypeVarInt, true},
	PropSessionExpiryInterval:    {"session-expiry-interval", PropTypeFourByteInt, false},
	PropAssignedClientIdentifier: {"assigned-client-identifier", PropTypeString, false},
	PropServerKeepAlive:          {"server-keep-alive", PropTypeTwoByteInt, false},
	PropAuthenticationMethod:     {"authentication-method", PropTypeString, false},
	PropAuthenticationData:       {"authentication-data", PropTypeBinary, false},
	PropRequestProblemInfo:       {"request-problem-information", PropTypeByte, false},
	PropWillDelayInterval:        {"will-delay-interval", PropTypeFourByteInt, false},
	PropRequestResponseInfo:      {"request-response-information", PropTypeByte, false},
	PropResponseInformation:      {"response-information", PropTypeString, false},
	PropServerReference:          {"server-reference", PropTypeString, false},
	PropReasonString:             {"reason-string", PropTypeString, false},
	PropReceiveMaximum:           {"receive-maximum", PropTypeTwoByteInt, false},
	PropTopicAliasMaximum:        {"topic-alias-maximum", PropTypeTwoByteInt, false},
	PropTopicAlias:               {"topic-alias", PropTypeTwoByteInt, false},
	PropMaximumQoS:               {"maximum-qos", PropTypeByte, false},
	PropRetainAvailable:          {"retain-available", PropTypeByte, false},
	PropUserProperty:             {"user-property", PropTypeStringPair, true},
	PropMaximumPacketSize:        {"maximum-packet-size", PropTypeFourByteInt, false},
	PropWildcardSubAvailable:     {"wildcard-subscription-available", PropTypeByte, false},
	PropSubscriptionIDAvailable:  {"subscription-identifier-available", PropTypeByte, false},
	PropSharedSubAvailable:       {"shared-subscription-available", PropTypeByte, false},
}

// allowedProperties lists the property kinds legal for each packet kind.
var allowedProperties = map[PacketType]map[PropertyID]struct{}{
	PacketCONNECT: propertySet(
		PropSessionExpiryInterval, PropAuthenticationMethod, PropAuthenticationData,
		PropRequestProblemInfo, PropRequestResponseInfo, PropReceiveMaximum,
		PropTopicAliasMaximum, PropUserProperty, PropMaximumPacketSize,
	),
	PacketCONNACK: propertySet(
		PropSessionExpiryInterval, PropAssignedClientIdentifier, PropServerKeepAlive,
		PropAuthenticationMethod, PropAuthenticationData, PropResponseInformation,
		PropServerReference, PropReasonString, PropReceiveMaximum, PropTopicAliasMaximum,
		PropMaximumQoS, PropRetainAvailable, PropUserProperty, PropMaximumPacketSize,
		PropWildcardSubAvailable, PropSubscriptionIDAvailable, PropSharedSubAvailable,
	),
	PacketPUBLISH: propertySet(
		PropPayloadFormatIndicator, PropMessageExpiryInterval, PropContentType,
		PropResponseTopic, PropCorrelationData, PropSubscriptionIdentifier,
		PropTopicAlias, PropUserProperty,
	),
	PacketPUBACK:      propertySet(PropReasonString, PropUserProperty),
	PacketSUBSCRIBE:   propertySet(PropSubscriptionIdentifier, PropUserProperty),
	PacketSUBACK:      propertySet(PropReasonString, PropUserProperty),
	PacketUNSUBSCRIBE: propertySet(PropUserProperty),
	PacketUNSUBACK:    propertySet(PropReasonString, PropUserProperty),
	PacketDISCONNECT: propertySet(
		PropSessionExpiryInterval, PropReasonString, PropServerReference, PropUserProperty,
	),
}

func propertySet(ids ...PropertyID) map[PropertyID]struct{} {
	m := make(map[PropertyID]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// PropertyType returns the data type for this property ID.
func (p PropertyID) PropertyType() PropertyType {
	if info, ok := propertyInfos[p]; ok {
		return info.typ
	}
	return PropTypeByte
}

// String returns the property name as used on the command line.
func (p PropertyID) String() string {
	if info, ok := propertyInfos[p]; ok {
		return info.name
	}
	return "unknown-property-0x" + strconv.FormatUint(uint64(p), 16)
}

// Repeatable reports whether the property may appear more than once in a packet.
func (p PropertyID) Repeatable() bool {
	return propertyInfos[p].repeatable
}

// PropertyByName resolves a property name such as "session-expiry-interval".
func PropertyByName(name string) (PropertyID, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for id, info := range propertyInfos {
		if info.name == name {
			return id, true
		}
	}
	return 0, false
}

// Property errors.
var (
	ErrUnknownPropertyID     = errors.New("unknown property identifier")
	ErrInvalidPropertyType   = errors.New("invalid property type for identifier")
	ErrInvalidPropertyValue  = errors.New("invalid property value")
	ErrDuplicateProperty     = errors.New("duplicate property not allowed")
	ErrPropertyNotAllowed    = errors.New("property not allowed for packet")
	ErrUnsupportedPacketKind = errors.New("packet kind does not carry properties")
)

// Properties is an ordered collection of MQTT v5.0 properties.
type Properties struct {
	props []property
}

type property struct {
	id    PropertyID
	value any
}

// Len returns the number of properties in the collection.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.props)
}

// Has returns true if the property with the given ID exists.
func (p *Properties) Has(id PropertyID) bool {
	if p == nil {
		return false
	}
	for i := range p.props {
		if p.props[i].id == id {
			return true
		}
	}
	return false
}

// Get returns the first value of the property with the given ID, or nil.
func (p *Properties) Get(id PropertyID) any {
	if p == nil {
		return nil
	}
	for i := range p.props {
		if p.props[i].id == id {
			return p.props[i].value
		}
	}
	return nil
}

// Set replaces the value of a non-repeatable property or appends it.
func (p *Properties) Set(id PropertyID, value any) {
	if p == nil {
		return
	}
	for i := range p.props {
		if p.props[i].id == id {
			p.props[i].value = value
			return
		}
	}
	p.props = append(p.props, property{id: id, value: value})
}

// Add appends a property value, keeping insertion order.
func (p *Properties) Add(id PropertyID, value any) {
	if p == nil {
		return
	}
	p.props = append(p.props, property{id: id, value: value})
}

// Each calls fn for every property in insertion order.
func (p *Properties) Each(fn func(id PropertyID, value any)) {
	if p == nil {
		return
	}
	for i := range p.props {
		fn(p.props[i].id, p.props[i].value)
	}
}

// Clone returns a copy that does not share storage with p.
func (p *Properties) Clone() *Properties {
	if p == nil {
		return nil
	}
	c := &Properties{props: make([]property, len(p.props))}
	copy(c.props, p.props)
	return c
}

// GetByte returns the byte value of a property, or 0 if not found.
func (p *Properties) GetByte(id PropertyID) byte {
	b, _ := p.Get(id).(byte)
	return b
}

// GetUint16 returns the uint16 value of a property, or 0 if not found.
func (p *Properties) GetUint16(id PropertyID) uint16 {
	u, _ := p.Get(id).(uint16)
	return u
}

// GetUint32 returns the uint32 value of a property, or 0 if not found.
func (p *Properties) GetUint32(id PropertyID) uint32 {
	u, _ := p.Get(id).(uint32)
	return u
}

// GetString returns the string value of a property, or empty string if not found.
func (p *Properties) GetString(id PropertyID) string {
	s, _ := p.Get(id).(string)
	return s
}

// GetBinary returns the binary value of a property, or nil if not found.
func (p *Properties) GetBinary(id PropertyID) []byte {
	b, _ := p.Get(id).([]byte)
	return b
}

// GetAllStringPairs returns all string pair values for the given property ID.
func (p *Properties) GetAllStringPairs(id PropertyID) []StringPair {
	var result []StringPair
	p.Each(func(pid PropertyID, v any) {
		if pid != id {
			return
		}
		if sp, ok := v.(StringPair); ok {
			result = append(result, sp)
		}
	})
	return result
}

// ValidateFor checks that every property is legal for the packet kind,
// carries a value of the right type and range, and that non-repeatable
// properties appear at most once.
func (p *Properties) ValidateFor(kind PacketType) error {
	if p.Len() == 0 {
		return nil
	}

	allowed, ok := allowedProperties[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedPacketKind, kind)
	}

	seen := make(map[PropertyID]bool, len(p.props))
	for i := range p.props {
		prop := &p.props[i]

		if _, known := propertyInfos[prop.id]; !known {
			return fmt.Errorf("%w: 0x%02X", ErrUnknownPropertyID, byte(prop.id))
		}
		if _, ok := allowed[prop.id]; !ok {
			return fmt.Errorf("%w: %s in %s", ErrPropertyNotAllowed, prop.id, kind)
		}
		if seen[prop.id] && !prop.id.Repeatable() {
			return fmt.Errorf("%w: %s", ErrDuplicateProperty, prop.id)
		}
		seen[prop.id] = true

		if err := checkPropertyValue(prop); err != nil {
			return err
		}
	}

	return nil
}

func checkPropertyValue(prop *property) error {
	var ok bool
	switch prop.id.PropertyType() {
	case PropTypeByte:
		var b byte
		b, ok = prop.value.(byte)
		if ok {
			switch prop.id {
			case PropPayloadFormatIndicator, PropRequestProblemInfo, PropRequestResponseInfo,
				PropMaximumQoS, PropRetainAvailable, PropWildcardSubAvailable,
				PropSubscriptionIDAvailable, PropSharedSubAvailable:
				if b > 1 {
					return fmt.Errorf("%w: %s must be 0 or 1", ErrInvalidPropertyValue, prop.id)
				}
			}
		}
	case PropTypeTwoByteInt:
		var v uint16
		v, ok = prop.value.(uint16)
		if ok && v == 0 && (prop.id == PropReceiveMaximum || prop.id == PropTopicAlias) {
			return fmt.Errorf("%w: %s must not be zero", ErrInvalidPropertyValue, prop.id)
		}
	case PropTypeFourByteInt:
		var v uint32
		v, ok = prop.value.(uint32)
		if ok && v == 0 && prop.id == PropMaximumPacketSize {
			return fmt.Errorf("%w: %s must not be zero", ErrInvalidPropertyValue, prop.id)
		}
	case PropTypeVarInt:
		var v uint32
		v, ok = prop.value.(uint32)
		if ok && (v == 0 || v > maxVarint) {
			return fmt.Errorf("%w: %s out of range", ErrInvalidPropertyValue, prop.id)
		}
	case PropTypeString:
		var s string
		s, ok = prop.value.(string)
		if ok {
			if err := validateString(s); err != nil {
				return fmt.Errorf("%s: %w", prop.id, err)
			}
		}
	case PropTypeBinary:
		var b []byte
		b, ok = prop.value.([]byte)
		if ok && len(b) > maxStringLength {
			return fmt.Errorf("%s: %w", prop.id, ErrBinaryTooLong)
		}
	case PropTypeStringPair:
		var sp StringPair
		sp, ok = prop.value.(StringPair)
		if ok {
			if err := validateString(sp.Key); err != nil {
				return fmt.Errorf("%s: %w", prop.id, err)
			}
			if err := validateString(sp.Value); err != nil {
				return fmt.Errorf("%s: %w", prop.id, err)
			}
		}
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidPropertyType, prop.id)
	}
	return nil
}

// ParsePropertyValue converts a textual value to the Go type required by id.
// User properties are written as "name:value".
func ParsePropertyValue(id PropertyID, text string) (any, error) {
	switch id.PropertyType() {
	case PropTypeByte:
		v, err := strconv.ParseUint(text, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPropertyValue, id, err)
		}
		return byte(v), nil
	case PropTypeTwoByteInt:
		v, err := strconv.ParseUint(text, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPropertyValue, id, err)
		}
		return uint16(v), nil
	case PropTypeFourByteInt, PropTypeVarInt:
		v, err := strconv.ParseUint(text, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPropertyValue, id, err)
		}
		return uint32(v), nil
	case PropTypeString:
		return text, nil
	case PropTypeBinary:
		return []byte(text), nil
	case PropTypeStringPair:
		key, value, ok := strings.Cut(text, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %s expects name:value", ErrInvalidPropertyValue, id)
		}
		return StringPair{Key: key, Value: value}, nil
	}
	return nil, ErrInvalidPropertyType
}

// Encode writes the properties block, length prefix included.
func (p *Properties) Encode(w io.Writer) (int, error) {
	if p == nil || len(p.props) == 0 {
		return encodeVarint(w, 0)
	}

	n, err := encodeVarint(w, uint32(p.size()))
	if err != nil {
		return n, err
	}

	for i := range p.props {
		n2, err := encodeProperty(w, &p.props[i])
		n += n2
		if err != nil {
			return n, err
		}
	}

	return n, nil
}

func encodeProperty(w io.Writer, prop *property) (int, error) {
	n, err := w.Write([]byte{byte(prop.id)})
	if err != nil {
		return n, err
	}

	var n2 int
	switch prop.id.PropertyType() {
	case PropTypeByte:
		b, _ := prop.value.(byte)
		n2, err = w.Write([]byte{b})
	case PropTypeTwoByteInt:
		v, _ := prop.value.(uint16)
		n2, err = w.Write([]byte{byte(v >> 8), byte(v)})
	case PropTypeFourByteInt:
		v, _ := prop.value.(uint32)
		n2, err = w.Write([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	case PropTypeVarInt:
		v, _ := prop.value.(uint32)
		n2, err = encodeVarint(w, v)
	case PropTypeString:
		s, _ := prop.value.(string)
		n2, err = encodeString(w, s)
	case PropTypeBinary:
		b, _ := prop.value.([]byte)
		n2, err = encodeBinary(w, b)
	case PropTypeStringPair:
		sp, _ := prop.value.(StringPair)
		n2, err = encodeStringPair(w, sp)
	}

	return n + n2, err
}

func (p *Properties) size() int {
	size := 0
	p.Each(func(id PropertyID, value any) {
		size++
		switch id.PropertyType() {
		case PropTypeByte:
			size++
		case PropTypeTwoByteInt:
			size += 2
		case PropTypeFourByteInt:
			size += 4
		case PropTypeVarInt:
			v, _ := value.(uint32)
			size += varintSize(v)
		case PropTypeString:
			s, _ := value.(string)
			size += 2 + len(s)
		case PropTypeBinary:
			b, _ := value.([]byte)
			size += 2 + len(b)
		case PropTypeStringPair:
			sp, _ := value.(StringPair)
			size += 4 + len(sp.Key) + len(sp.Value)
		}
	})
	return size
}

// Decode reads a properties block, length prefix included.
func (p *Properties) Decode(r io.Reader) (int, error) {
	length, n, err := decodeVarint(r)
	if err != nil {
		return n, err
	}

	remaining := int(length)
	for remaining > 0 {
		var idBuf [1]byte
		n2, err := io.ReadFull(r, idBuf[:])
		n += n2
		remaining -= n2
		if err != nil {
			return n, err
		}

		id := PropertyID(idBuf[0])
		info, ok := propertyInfos[id]
		if !ok {
			return n, ErrUnknownPropertyID
		}

		var value any
		var n3 int
		switch info.typ {
		case PropTypeByte:
			var buf [1]byte
			n3, err = io.ReadFull(r, buf[:])
			value = buf[0]
		case PropTypeTwoByteInt:
			var buf [2]byte
			n3, err = io.ReadFull(r, buf[:])
			value = uint16(buf[0])<<8 | uint16(buf[1])
		case PropTypeFourByteInt:
			var buf [4]byte
			n3, err = io.ReadFull(r, buf[:])
			value = uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		case PropTypeVarInt:
			var v uint32
			v, n3, err = decodeVarint(r)
			value = v
		case PropTypeString:
			var s string
			s, n3, err = decodeString(r)
			value = s
		case PropTypeBinary:
			var b []byte
			b, n3, err = decodeBinary(r)
			value = b
		case PropTypeStringPair:
			var sp StringPair
			sp, n3, err = decodeStringPair(r)
			value = sp
		}

		n += n3
		remaining -= n3
		if err != nil {
			return n, err
		}

		p.props = append(p.props, property{id: id, value: value})
	}

	if remaining < 0 {
		return n, ErrMalformedPacket
	}

	return n, nil
}
