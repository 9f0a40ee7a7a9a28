// Package ofp encodes and decodes the subset of OpenFlow 1.4 the
// bridge speaks to a switch: the handshake and keepalive messages,
// flow modifications and bundles.
//
// Every message is a fixed 8-byte header followed by a type specific
// body. Messages marshal themselves with MarshalBinary; Decode turns
// a complete frame read from the wire back into a Message.
package ofp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the OpenFlow wire version this package encodes (1.4).
const Version uint8 = 0x05

// HeaderLen is the length of the common OpenFlow header.
const HeaderLen = 8

// MsgType is the OpenFlow message type.
type MsgType uint8

const (
	TypeHello         MsgType = 0
	TypeError         MsgType = 1
	TypeEchoRequest   MsgType = 2
	TypeEchoReply     MsgType = 3
	TypeFlowMod       MsgType = 14
	TypeBarrierReq    MsgType = 20
	TypeBarrierReply  MsgType = 21
	TypeBundleControl MsgType = 33
	TypeBundleAdd     MsgType = 34
)

// String returns the OFPT_ name of the type.
func (t MsgType) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeError:
		return "ERROR"
	case TypeEchoRequest:
		return "ECHO_REQUEST"
	case TypeEchoReply:
		return "ECHO_REPLY"
	case TypeFlowMod:
		return "FLOW_MOD"
	case TypeBarrierReq:
		return "BARRIER_REQUEST"
	case TypeBarrierReply:
		return "BARRIER_REPLY"
	case TypeBundleControl:
		return "BUNDLE_CONTROL"
	case TypeBundleAdd:
		return "BUNDLE_ADD_MESSAGE"
	default:
		return fmt.Sprintf("TYPE_%d", uint8(t))
	}
}

// Reserved port and group numbers.
const (
	PortMax        uint32 = 0xffffff00
	PortInPort     uint32 = 0xfffffff8
	PortTable      uint32 = 0xfffffff9
	PortNormal     uint32 = 0xfffffffa
	PortFlood      uint32 = 0xfffffffb
	PortAll        uint32 = 0xfffffffc
	PortController uint32 = 0xfffffffd
	PortLocal      uint32 = 0xfffffffe
	PortAny        uint32 = 0xffffffff

	GroupAny uint32 = 0xffffffff

	// TableAll addresses every table in a flow modification.
	TableAll uint8 = 0xff

	NoBuffer uint32 = 0xffffffff
)

var (
	ErrShortPacket  = errors.New("ofp: short packet")
	ErrInvalidFrame = errors.New("ofp: invalid frame length")
)

// Header is the common header of every OpenFlow message.
type Header struct {
	Version uint8
	Type    MsgType
	Length  uint16
	Xid     uint32
}

// MarshalBinary encodes the header.
func (h *Header) MarshalBinary() ([]byte, error) {
	v := make([]byte, HeaderLen)
	v[0] = h.Version
	v[1] = uint8(h.Type)
	binary.BigEndian.PutUint16(v[2:4], h.Length)
	binary.BigEndian.PutUint32(v[4:8], h.Xid)
	return v, nil
}

// UnmarshalBinary decodes the header from the first 8 bytes of data.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderLen {
		return ErrShortPacket
	}
	h.Version = data[0]
	h.Type = MsgType(data[1])
	h.Length = binary.BigEndian.Uint16(data[2:4])
	h.Xid = binary.BigEndian.Uint32(data[4:8])
	return nil
}

// Message is an OpenFlow message. The transaction id is assigned by
// the sender when it is zero.
type Message interface {
	Type() MsgType
	Xid() uint32
	SetXid(uint32)
	MarshalBinary() ([]byte, error)
}

type xid struct {
	xid uint32
}

func (x *xid) Xid() uint32 { return x.xid }

func (x *xid) SetXid(v uint32) { x.xid = v }

// frame prepends a header for a message of type t to body.
func frame(t MsgType, id uint32, body []byte) ([]byte, error) {
	length := HeaderLen + len(body)
	if length > 0xffff {
		return nil, fmt.Errorf("ofp: %s message too long (%d bytes)", t, length)
	}
	h := Header{Version: Version, Type: t, Length: uint16(length), Xid: id}
	v, _ := h.MarshalBinary()
	return append(v, body...), nil
}

// Decode parses one complete frame. Message types the bridge does not
// interpret are returned as *Unknown.
func Decode(data []byte) (Message, error) {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if int(h.Length) != len(data) || h.Length < HeaderLen {
		return nil, ErrInvalidFrame
	}
	body := data[HeaderLen:]

	var msg Message
	switch h.Type {
	case TypeHello:
		m := &Hello{Version: h.Version}
		m.decode(body)
		msg = m
	case TypeError:
		m := &Error{}
		if err := m.decode(body); err != nil {
			return nil, err
		}
		msg = m
	case TypeEchoRequest:
		msg = &EchoRequest{Data: append([]byte(nil), body...)}
	case TypeEchoReply:
		msg = &EchoReply{Data: append([]byte(nil), body...)}
	case TypeBundleControl:
		m := &BundleControl{}
		if err := m.decode(body); err != nil {
			return nil, err
		}
		msg = m
	default:
		msg = &Unknown{MsgType: h.Type, Body: append([]byte(nil), body...)}
	}
	msg.SetXid(h.Xid)
	return msg, nil
}
