package ofp

import (
	"encoding/binary"
	"fmt"
)

// BundleCtrlType is the ofp_bundle_ctrl_type.
type BundleCtrlType uint16

const (
	BundleOpenRequest    BundleCtrlType = 0
	BundleOpenReply      BundleCtrlType = 1
	BundleCloseRequest   BundleCtrlType = 2
	BundleCloseReply     BundleCtrlType = 3
	BundleCommitRequest  BundleCtrlType = 4
	BundleCommitReply    BundleCtrlType = 5
	BundleDiscardRequest BundleCtrlType = 6
	BundleDiscardReply   BundleCtrlType = 7
)

func (t BundleCtrlType) String() string {
	switch t {
	case BundleOpenRequest:
		return "OPEN_REQUEST"
	case BundleOpenReply:
		return "OPEN_REPLY"
	case BundleCloseRequest:
		return "CLOSE_REQUEST"
	case BundleCloseReply:
		return "CLOSE_REPLY"
	case BundleCommitRequest:
		return "COMMIT_REQUEST"
	case BundleCommitReply:
		return "COMMIT_REPLY"
	case BundleDiscardRequest:
		return "DISCARD_REQUEST"
	case BundleDiscardReply:
		return "DISCARD_REPLY"
	default:
		return fmt.Sprintf("CTRL_%d", uint16(t))
	}
}

// BundleFlags are the ofp_bundle_flags.
type BundleFlags uint16

const (
	BundleAtomic  BundleFlags = 1 << 0
	BundleOrdered BundleFlags = 1 << 1
)

// BundleControl is an OFPT_BUNDLE_CONTROL message.
type BundleControl struct {
	xid
	BundleID uint32
	CtrlType BundleCtrlType
	Flags    BundleFlags
}

func (*BundleControl) Type() MsgType { return TypeBundleControl }

func (m *BundleControl) MarshalBinary() ([]byte, error) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint32(v[0:4], m.BundleID)
	binary.BigEndian.PutUint16(v[4:6], uint16(m.CtrlType))
	binary.BigEndian.PutUint16(v[6:8], uint16(m.Flags))
	return frame(TypeBundleControl, m.xid.xid, v)
}

func (m *BundleControl) decode(body []byte) error {
	if len(body) < 8 {
		return ErrShortPacket
	}
	m.BundleID = binary.BigEndian.Uint32(body[0:4])
	m.CtrlType = BundleCtrlType(binary.BigEndian.Uint16(body[4:6]))
	m.Flags = BundleFlags(binary.BigEndian.Uint16(body[6:8]))
	return nil
}

// BundleAdd is an OFPT_BUNDLE_ADD_MESSAGE wrapping one message. The
// wrapped message is encoded with the xid of the BundleAdd.
type BundleAdd struct {
	xid
	BundleID uint32
	Flags    BundleFlags
	Message  Message
}

func (*BundleAdd) Type() MsgType { return TypeBundleAdd }

func (m *BundleAdd) MarshalBinary() ([]byte, error) {
	if m.Message == nil {
		return nil, fmt.Errorf("ofp: bundle %d: nothing to add", m.BundleID)
	}
	inner, err := m.Message.MarshalBinary()
	if err != nil {
		return nil, err
	}
	binary.BigEndian.PutUint32(inner[4:8], m.xid.xid)

	v := make([]byte, 8, 8+len(inner))
	binary.BigEndian.PutUint32(v[0:4], m.BundleID)
	binary.BigEndian.PutUint16(v[6:8], uint16(m.Flags))
	return frame(TypeBundleAdd, m.xid.xid, append(v, inner...))
}
