package ofp

import (
	"encoding/binary"
	"fmt"
)

const helloElemVersionBitmap = 1

// Hello opens a session. Bitmap lists the versions the sender
// supports as a bitmap of version numbers; it is empty when the peer
// sent no version bitmap element.
type Hello struct {
	xid
	Version uint8
	Bitmap  []uint32
}

// NewHello returns a hello advertising OpenFlow 1.4 only.
func NewHello() *Hello {
	return &Hello{Version: Version, Bitmap: []uint32{1 << Version}}
}

func (*Hello) Type() MsgType { return TypeHello }

// MarshalBinary encodes the hello with its version bitmap element.
func (m *Hello) MarshalBinary() ([]byte, error) {
	var body []byte
	if len(m.Bitmap) > 0 {
		elemLen := 4 + 4*len(m.Bitmap)
		elem := make([]byte, elemLen, (elemLen+7)/8*8)
		binary.BigEndian.PutUint16(elem[0:2], helloElemVersionBitmap)
		binary.BigEndian.PutUint16(elem[2:4], uint16(elemLen))
		for i, w := range m.Bitmap {
			binary.BigEndian.PutUint32(elem[4+4*i:], w)
		}
		body = elem[:cap(elem)]
	}
	v, err := frame(TypeHello, m.xid.xid, body)
	if err != nil {
		return nil, err
	}
	if m.Version != 0 {
		v[0] = m.Version
	}
	return v, nil
}

func (m *Hello) decode(body []byte) {
	for len(body) >= 4 {
		typ := binary.BigEndian.Uint16(body[0:2])
		length := int(binary.BigEndian.Uint16(body[2:4]))
		if length < 4 || length > len(body) {
			return
		}
		if typ == helloElemVersionBitmap {
			for i := 4; i+4 <= length; i += 4 {
				m.Bitmap = append(m.Bitmap, binary.BigEndian.Uint32(body[i:]))
			}
		}
		padded := (length + 7) / 8 * 8
		if padded > len(body) {
			return
		}
		body = body[padded:]
	}
}

// Supports reports whether the hello advertises version v. A hello
// without a bitmap supports every version up to its header version.
func (m *Hello) Supports(v uint8) bool {
	if len(m.Bitmap) == 0 {
		return v <= m.Version
	}
	word := int(v) / 32
	if word >= len(m.Bitmap) {
		return false
	}
	return m.Bitmap[word]&(1<<(uint(v)%32)) != 0
}

// EchoRequest is a liveness probe.
type EchoRequest struct {
	xid
	Data []byte
}

func (*EchoRequest) Type() MsgType { return TypeEchoRequest }

func (m *EchoRequest) MarshalBinary() ([]byte, error) {
	return frame(TypeEchoRequest, m.xid.xid, m.Data)
}

// EchoReply answers an EchoRequest, echoing its xid and data.
type EchoReply struct {
	xid
	Data []byte
}

// NewEchoReply returns the reply to req.
func NewEchoReply(req *EchoRequest) *EchoReply {
	r := &EchoReply{Data: req.Data}
	r.SetXid(req.Xid())
	return r
}

func (*EchoReply) Type() MsgType { return TypeEchoReply }

func (m *EchoReply) MarshalBinary() ([]byte, error) {
	return frame(TypeEchoReply, m.xid.xid, m.Data)
}

// Error types the bridge reports by name.
const (
	ErrTypeHelloFailed    uint16 = 0
	ErrTypeBadRequest     uint16 = 1
	ErrTypeBadAction      uint16 = 2
	ErrTypeBadInstruction uint16 = 3
	ErrTypeBadMatch       uint16 = 4
	ErrTypeFlowModFailed  uint16 = 5
	ErrTypeGroupModFailed uint16 = 6
	ErrTypeTableFeatures  uint16 = 13
	ErrTypeBundleFailed   uint16 = 17
	ErrTypeExperimenter   uint16 = 0xffff
)

var errorTypeNames = map[uint16]string{
	ErrTypeHelloFailed:    "HELLO_FAILED",
	ErrTypeBadRequest:     "BAD_REQUEST",
	ErrTypeBadAction:      "BAD_ACTION",
	ErrTypeBadInstruction: "BAD_INSTRUCTION",
	ErrTypeBadMatch:       "BAD_MATCH",
	ErrTypeFlowModFailed:  "FLOW_MOD_FAILED",
	ErrTypeGroupModFailed: "GROUP_MOD_FAILED",
	ErrTypeTableFeatures:  "TABLE_FEATURES_FAILED",
	ErrTypeBundleFailed:   "BUNDLE_FAILED",
	ErrTypeExperimenter:   "EXPERIMENTER",
}

// Error is an OFPT_ERROR message. Data holds at least the start of
// the offending request.
type Error struct {
	xid
	ErrType uint16
	Code    uint16
	Data    []byte
}

func (*Error) Type() MsgType { return TypeError }

func (m *Error) MarshalBinary() ([]byte, error) {
	body := make([]byte, 4, 4+len(m.Data))
	binary.BigEndian.PutUint16(body[0:2], m.ErrType)
	binary.BigEndian.PutUint16(body[2:4], m.Code)
	return frame(TypeError, m.xid.xid, append(body, m.Data...))
}

func (m *Error) decode(body []byte) error {
	if len(body) < 4 {
		return ErrShortPacket
	}
	m.ErrType = binary.BigEndian.Uint16(body[0:2])
	m.Code = binary.BigEndian.Uint16(body[2:4])
	m.Data = append([]byte(nil), body[4:]...)
	return nil
}

// TypeName returns the OFPET_ name of the error type.
func (m *Error) TypeName() string {
	if n, ok := errorTypeNames[m.ErrType]; ok {
		return n
	}
	return fmt.Sprintf("TYPE_%d", m.ErrType)
}

func (m *Error) Error() string {
	return fmt.Sprintf("openflow error %s code %d", m.TypeName(), m.Code)
}

// Unknown carries any message this package does not interpret.
type Unknown struct {
	xid
	MsgType MsgType
	Body    []byte
}

func (m *Unknown) Type() MsgType { return m.MsgType }

func (m *Unknown) MarshalBinary() ([]byte, error) {
	return frame(m.MsgType, m.xid.xid, m.Body)
}
