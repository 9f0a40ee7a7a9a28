package ofp

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	matchTypeOXM     uint16 = 1
	oxmClassBasic    uint16 = 0x8000
	vlanPresent      uint16 = 0x1000
	minimumMatchSize        = 8
)

// OXMField is an OpenFlow basic class match field.
type OXMField uint8

const (
	FieldInPort   OXMField = 0
	FieldMetadata OXMField = 2
	FieldEthDst   OXMField = 3
	FieldEthSrc   OXMField = 4
	FieldEthType  OXMField = 5
	FieldVLANVID  OXMField = 6
	FieldIPProto  OXMField = 10
	FieldIPv4Src  OXMField = 11
	FieldIPv4Dst  OXMField = 12
	FieldTCPSrc   OXMField = 13
	FieldTCPDst   OXMField = 14
	FieldUDPSrc   OXMField = 15
	FieldUDPDst   OXMField = 16
	FieldIPv6Src  OXMField = 26
	FieldIPv6Dst  OXMField = 27
)

type fieldInfo struct {
	name     string
	size     int
	maskable bool
}

var fields = map[OXMField]fieldInfo{
	FieldInPort:   {"in_port", 4, false},
	FieldMetadata: {"metadata", 8, true},
	FieldEthDst:   {"eth_dst", 6, true},
	FieldEthSrc:   {"eth_src", 6, true},
	FieldEthType:  {"eth_type", 2, false},
	FieldVLANVID:  {"vlan_vid", 2, true},
	FieldIPProto:  {"ip_proto", 1, false},
	FieldIPv4Src:  {"ipv4_src", 4, true},
	FieldIPv4Dst:  {"ipv4_dst", 4, true},
	FieldTCPSrc:   {"tcp_src", 2, false},
	FieldTCPDst:   {"tcp_dst", 2, false},
	FieldUDPSrc:   {"udp_src", 2, false},
	FieldUDPDst:   {"udp_dst", 2, false},
	FieldIPv6Src:  {"ipv6_src", 16, true},
	FieldIPv6Dst:  {"ipv6_dst", 16, true},
}

func (f OXMField) String() string {
	if info, ok := fields[f]; ok {
		return info.name
	}
	return fmt.Sprintf("field_%d", uint8(f))
}

// Size returns the length of the field's value in bytes.
func (f OXMField) Size() int {
	return fields[f].size
}

// OXM is one TLV of an OXM match. Mask is nil for an exact match.
type OXM struct {
	Field OXMField
	Value []byte
	Mask  []byte
}

// MarshalBinary encodes the TLV.
func (o OXM) MarshalBinary() ([]byte, error) {
	info, ok := fields[o.Field]
	if !ok {
		return nil, fmt.Errorf("ofp: unsupported oxm field %d", o.Field)
	}
	if len(o.Value) != info.size {
		return nil, fmt.Errorf("ofp: %s value must be %d bytes, got %d", info.name, info.size, len(o.Value))
	}
	hasMask := o.Mask != nil
	if hasMask && (!info.maskable || len(o.Mask) != info.size) {
		return nil, fmt.Errorf("ofp: invalid mask for %s", info.name)
	}
	length := info.size
	if hasMask {
		length *= 2
	}
	v := make([]byte, 4, 4+length)
	binary.BigEndian.PutUint16(v[0:2], oxmClassBasic)
	v[2] = uint8(o.Field) << 1
	if hasMask {
		v[2] |= 1
	}
	v[3] = uint8(length)
	v = append(v, o.Value...)
	if hasMask {
		v = append(v, o.Mask...)
	}
	return v, nil
}

func (o OXM) String() string {
	s := o.Field.String() + "=" + formatValue(o.Field, o.Value)
	if o.Mask != nil {
		s += "/" + formatValue(o.Field, o.Mask)
	}
	return s
}

func formatValue(f OXMField, v []byte) string {
	switch f {
	case FieldEthDst, FieldEthSrc:
		return net.HardwareAddr(v).String()
	case FieldIPv4Src, FieldIPv4Dst, FieldIPv6Src, FieldIPv6Dst:
		return net.IP(v).String()
	}
	var n uint64
	for _, b := range v {
		n = n<<8 | uint64(b)
	}
	if f == FieldEthType || f == FieldMetadata {
		return fmt.Sprintf("%#x", n)
	}
	return fmt.Sprint(n)
}

// Match is an ordered OXM match. The empty match matches every
// packet.
type Match []OXM

// MarshalBinary encodes the ofp_match, padded to a multiple of 8.
func (m Match) MarshalBinary() ([]byte, error) {
	v := make([]byte, 4, minimumMatchSize)
	binary.BigEndian.PutUint16(v[0:2], matchTypeOXM)
	for _, o := range m {
		tlv, err := o.MarshalBinary()
		if err != nil {
			return nil, err
		}
		v = append(v, tlv...)
	}
	// ofp_match.length excludes padding.
	binary.BigEndian.PutUint16(v[2:4], uint16(len(v)))
	if rem := len(v) % 8; rem > 0 {
		v = append(v, make([]byte, 8-rem)...)
	}
	return v, nil
}

// Has reports whether the match constrains field f.
func (m Match) Has(f OXMField) bool {
	for _, o := range m {
		if o.Field == f {
			return true
		}
	}
	return false
}

// Get returns the value of field f.
func (m Match) Get(f OXMField) ([]byte, bool) {
	for _, o := range m {
		if o.Field == f {
			return o.Value, true
		}
	}
	return nil, false
}
