package ofp

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// FlowModCommand is the ofp_flow_mod_command.
type FlowModCommand uint8

const (
	FlowAdd          FlowModCommand = 0
	FlowModify       FlowModCommand = 1
	FlowModifyStrict FlowModCommand = 2
	FlowDelete       FlowModCommand = 3
	FlowDeleteStrict FlowModCommand = 4
)

func (c FlowModCommand) String() string {
	switch c {
	case FlowAdd:
		return "ADD"
	case FlowModify:
		return "MODIFY"
	case FlowModifyStrict:
		return "MODIFY_STRICT"
	case FlowDelete:
		return "DELETE"
	case FlowDeleteStrict:
		return "DELETE_STRICT"
	default:
		return fmt.Sprintf("COMMAND_%d", uint8(c))
	}
}

const flowModBodyLen = 40

// FlowMod is an OFPT_FLOW_MOD message.
type FlowMod struct {
	xid
	Cookie       uint64
	CookieMask   uint64
	TableID      uint8
	Command      FlowModCommand
	IdleTimeout  uint16
	HardTimeout  uint16
	Priority     uint16
	OutPort      uint32
	OutGroup     uint32
	Flags        uint16
	Importance   uint16
	Match        Match
	Instructions []Instruction
	// Text is the flow description the mod was parsed from, if any.
	Text string
}

// NewFlowMod returns a flow mod with the given command that does not
// filter on output port or group.
func NewFlowMod(cmd FlowModCommand) *FlowMod {
	return &FlowMod{Command: cmd, OutPort: PortAny, OutGroup: GroupAny}
}

// DeleteAll returns the wildcard delete that empties every table.
func DeleteAll() *FlowMod {
	fm := NewFlowMod(FlowDelete)
	fm.TableID = TableAll
	return fm
}

// WithCommand returns a copy of the flow mod with a different
// command. Match and instructions are shared.
func (m *FlowMod) WithCommand(cmd FlowModCommand) *FlowMod {
	c := *m
	c.xid = xid{}
	c.Command = cmd
	return &c
}

func (*FlowMod) Type() MsgType { return TypeFlowMod }

// MarshalBinary encodes the flow mod.
func (m *FlowMod) MarshalBinary() ([]byte, error) {
	v := make([]byte, flowModBodyLen)
	binary.BigEndian.PutUint64(v[0:8], m.Cookie)
	binary.BigEndian.PutUint64(v[8:16], m.CookieMask)
	v[16] = m.TableID
	v[17] = uint8(m.Command)
	binary.BigEndian.PutUint16(v[18:20], m.IdleTimeout)
	binary.BigEndian.PutUint16(v[20:22], m.HardTimeout)
	binary.BigEndian.PutUint16(v[22:24], m.Priority)
	binary.BigEndian.PutUint32(v[24:28], NoBuffer)
	binary.BigEndian.PutUint32(v[28:32], m.OutPort)
	binary.BigEndian.PutUint32(v[32:36], m.OutGroup)
	binary.BigEndian.PutUint16(v[36:38], m.Flags)
	binary.BigEndian.PutUint16(v[38:40], m.Importance)

	match, err := m.Match.MarshalBinary()
	if err != nil {
		return nil, err
	}
	v = append(v, match...)
	for _, inst := range m.Instructions {
		b, err := inst.MarshalBinary()
		if err != nil {
			return nil, err
		}
		v = append(v, b...)
	}
	return frame(TypeFlowMod, m.xid.xid, v)
}

// String renders the flow mod for diagnostics.
func (m *FlowMod) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s table=%d priority=%d", m.Command, m.TableID, m.Priority)
	if m.Cookie != 0 {
		fmt.Fprintf(&b, " cookie=%#x", m.Cookie)
	}
	for _, o := range m.Match {
		fmt.Fprintf(&b, " %s", o)
	}
	if len(m.Instructions) > 0 {
		b.WriteString(" instructions=")
		for i, inst := range m.Instructions {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprint(&b, inst)
		}
	}
	return b.String()
}

// Instruction is one ofp_instruction.
type Instruction interface {
	MarshalBinary() ([]byte, error)
}

const (
	instGotoTable     uint16 = 1
	instWriteMetadata uint16 = 2
	instApplyActions  uint16 = 4
	instClearActions  uint16 = 5
)

// GotoTable continues processing in another table.
type GotoTable struct {
	TableID uint8
}

func (i GotoTable) MarshalBinary() ([]byte, error) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], instGotoTable)
	binary.BigEndian.PutUint16(v[2:4], 8)
	v[4] = i.TableID
	return v, nil
}

func (i GotoTable) String() string { return fmt.Sprintf("goto_table:%d", i.TableID) }

// WriteMetadata sets the metadata register under a mask.
type WriteMetadata struct {
	Metadata uint64
	Mask     uint64
}

func (i WriteMetadata) MarshalBinary() ([]byte, error) {
	v := make([]byte, 24)
	binary.BigEndian.PutUint16(v[0:2], instWriteMetadata)
	binary.BigEndian.PutUint16(v[2:4], 24)
	binary.BigEndian.PutUint64(v[8:16], i.Metadata)
	binary.BigEndian.PutUint64(v[16:24], i.Mask)
	return v, nil
}

func (i WriteMetadata) String() string {
	return fmt.Sprintf("write_metadata:%#x/%#x", i.Metadata, i.Mask)
}

// ApplyActions applies its actions immediately, in order.
type ApplyActions struct {
	Actions []Action
}

func (i ApplyActions) MarshalBinary() ([]byte, error) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], instApplyActions)
	for _, a := range i.Actions {
		b, err := a.MarshalBinary()
		if err != nil {
			return nil, err
		}
		v = append(v, b...)
	}
	binary.BigEndian.PutUint16(v[2:4], uint16(len(v)))
	return v, nil
}

func (i ApplyActions) String() string {
	if len(i.Actions) == 0 {
		return "drop"
	}
	parts := make([]string, len(i.Actions))
	for n, a := range i.Actions {
		parts[n] = fmt.Sprint(a)
	}
	return strings.Join(parts, ",")
}

// ClearActions empties the action set.
type ClearActions struct{}

func (ClearActions) MarshalBinary() ([]byte, error) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], instClearActions)
	binary.BigEndian.PutUint16(v[2:4], 8)
	return v, nil
}

func (ClearActions) String() string { return "clear_actions" }

// Action is one ofp_action.
type Action interface {
	MarshalBinary() ([]byte, error)
}

const (
	actOutput   uint16 = 0
	actPushVLAN uint16 = 17
	actPopVLAN  uint16 = 18
	actGroup    uint16 = 22
	actDecNwTTL uint16 = 24
	actSetField uint16 = 25
)

// ControllerMaxLen asks the switch to send the whole packet to the
// controller.
const ControllerMaxLen uint16 = 0xffff

// Output forwards the packet to a port.
type Output struct {
	Port   uint32
	MaxLen uint16
}

func (a Output) MarshalBinary() ([]byte, error) {
	v := make([]byte, 16)
	binary.BigEndian.PutUint16(v[0:2], actOutput)
	binary.BigEndian.PutUint16(v[2:4], 16)
	binary.BigEndian.PutUint32(v[4:8], a.Port)
	binary.BigEndian.PutUint16(v[8:10], a.MaxLen)
	return v, nil
}

func (a Output) String() string {
	switch a.Port {
	case PortInPort:
		return "IN_PORT"
	case PortNormal:
		return "NORMAL"
	case PortFlood:
		return "FLOOD"
	case PortAll:
		return "ALL"
	case PortController:
		return "CONTROLLER"
	case PortLocal:
		return "LOCAL"
	}
	return fmt.Sprintf("output:%d", a.Port)
}

// Group sends the packet through a group.
type Group struct {
	ID uint32
}

func (a Group) MarshalBinary() ([]byte, error) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], actGroup)
	binary.BigEndian.PutUint16(v[2:4], 8)
	binary.BigEndian.PutUint32(v[4:8], a.ID)
	return v, nil
}

func (a Group) String() string { return fmt.Sprintf("group:%d", a.ID) }

// PushVLAN pushes a new VLAN tag.
type PushVLAN struct {
	EtherType uint16
}

func (a PushVLAN) MarshalBinary() ([]byte, error) {
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], actPushVLAN)
	binary.BigEndian.PutUint16(v[2:4], 8)
	binary.BigEndian.PutUint16(v[4:6], a.EtherType)
	return v, nil
}

func (a PushVLAN) String() string { return fmt.Sprintf("push_vlan:%#x", a.EtherType) }

// PopVLAN pops the outermost VLAN tag.
type PopVLAN struct{}

func (PopVLAN) MarshalBinary() ([]byte, error) { return simpleAction(actPopVLAN), nil }

func (PopVLAN) String() string { return "pop_vlan" }

// DecNwTTL decrements the IP TTL.
type DecNwTTL struct{}

func (DecNwTTL) MarshalBinary() ([]byte, error) { return simpleAction(actDecNwTTL), nil }

func (DecNwTTL) String() string { return "dec_ttl" }

func simpleAction(t uint16) []byte {
	v := make([]byte, 8)
	binary.BigEndian.PutUint16(v[0:2], t)
	binary.BigEndian.PutUint16(v[2:4], 8)
	return v
}

// SetField rewrites a header field. The OXM must not be masked.
type SetField struct {
	Field OXM
}

func (a SetField) MarshalBinary() ([]byte, error) {
	if a.Field.Mask != nil {
		return nil, fmt.Errorf("ofp: set_field %s cannot be masked", a.Field.Field)
	}
	tlv, err := a.Field.MarshalBinary()
	if err != nil {
		return nil, err
	}
	length := (4 + len(tlv) + 7) / 8 * 8
	v := make([]byte, length)
	binary.BigEndian.PutUint16(v[0:2], actSetField)
	binary.BigEndian.PutUint16(v[2:4], uint16(length))
	copy(v[4:], tlv)
	return v, nil
}

func (a SetField) String() string {
	return fmt.Sprintf("set_field:%s", a.Field)
}
