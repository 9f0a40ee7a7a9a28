package ofp_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-p4bridge/ofp"
)

func TestDeleteAllEncoding(t *testing.T) {
	fm := ofp.DeleteAll()
	fm.SetXid(7)
	b, err := fm.MarshalBinary()
	require.NoError(t, err)

	require.Len(t, b, 8+40+8)
	assert.Equal(t, []byte{0x05, 14, 0x00, 56, 0, 0, 0, 7}, b[:8], "header")
	body := b[8:]
	assert.Equal(t, uint8(0xff), body[16], "table must be OFPTT_ALL")
	assert.Equal(t, uint8(ofp.FlowDelete), body[17], "non-strict delete")
	assert.Equal(t, uint32(0xffffffff), binary.BigEndian.Uint32(body[24:28]), "buffer id")
	assert.Equal(t, uint32(0xffffffff), binary.BigEndian.Uint32(body[28:32]), "out_port ANY")
	assert.Equal(t, uint32(0xffffffff), binary.BigEndian.Uint32(body[32:36]), "out_group ANY")
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 0x04, 0, 0, 0, 0}, body[40:48], "empty OXM match")
}

func TestStrictDeleteKeepsMatch(t *testing.T) {
	add, err := ofp.ParseFlow("table=3,priority=50,in_port=2,actions=output:1")
	require.NoError(t, err)

	del := add.WithCommand(ofp.FlowDeleteStrict)
	assert.Equal(t, ofp.FlowAdd, add.Command, "original is not modified")

	b, err := del.MarshalBinary()
	require.NoError(t, err)
	body := b[8:]
	assert.Equal(t, uint8(3), body[16])
	assert.Equal(t, uint8(ofp.FlowDeleteStrict), body[17])
	assert.Equal(t, uint16(50), binary.BigEndian.Uint16(body[22:24]))
	assert.Equal(t, uint32(ofp.PortAny), binary.BigEndian.Uint32(body[28:32]))

	// OXM in_port: class 0x8000, field 0, length 4, value 2.
	assert.Equal(t, []byte{0x00, 0x01, 0x00, 12, 0x80, 0x00, 0x00, 0x04, 0, 0, 0, 2, 0, 0, 0, 0}, body[40:56])
}

func TestBundleControlEncoding(t *testing.T) {
	m := &ofp.BundleControl{
		BundleID: 0x01020304,
		CtrlType: ofp.BundleCommitRequest,
		Flags:    ofp.BundleAtomic | ofp.BundleOrdered,
	}
	m.SetXid(9)
	b, err := m.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x05, 33, 0x00, 16, 0, 0, 0, 9,
		0x01, 0x02, 0x03, 0x04,
		0x00, 0x04,
		0x00, 0x03,
	}, b)
}

func TestBundleAddWrapsMessageWithSameXid(t *testing.T) {
	inner := ofp.DeleteAll()
	inner.SetXid(1234)
	m := &ofp.BundleAdd{BundleID: 5, Flags: ofp.BundleAtomic | ofp.BundleOrdered, Message: inner}
	m.SetXid(42)

	b, err := m.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, 16+56)

	assert.Equal(t, uint8(34), b[1])
	assert.Equal(t, uint16(len(b)), binary.BigEndian.Uint16(b[2:4]))
	assert.Equal(t, uint32(5), binary.BigEndian.Uint32(b[8:12]))
	assert.Equal(t, []byte{0, 0}, b[12:14], "pad")
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(b[14:16]))

	wrapped := b[16:]
	assert.Equal(t, uint8(14), wrapped[1])
	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(wrapped[4:8]), "inner xid follows the bundle add")
}

func TestDecodeRoundTrip(t *testing.T) {
	echo := &ofp.EchoRequest{Data: []byte("ping")}
	echo.SetXid(3)
	b, err := echo.MarshalBinary()
	require.NoError(t, err)

	msg, err := ofp.Decode(b)
	require.NoError(t, err)
	req, ok := msg.(*ofp.EchoRequest)
	require.True(t, ok)
	assert.Equal(t, uint32(3), req.Xid())
	assert.Equal(t, []byte("ping"), req.Data)

	reply := &ofp.BundleControl{BundleID: 8, CtrlType: ofp.BundleCommitReply}
	b, err = reply.MarshalBinary()
	require.NoError(t, err)
	msg, err = ofp.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, ofp.BundleCommitReply, msg.(*ofp.BundleControl).CtrlType)

	_, err = ofp.Decode(b[:10])
	assert.ErrorIs(t, err, ofp.ErrInvalidFrame)
}

func TestDecodeError(t *testing.T) {
	e := &ofp.Error{ErrType: ofp.ErrTypeBundleFailed, Code: 8, Data: []byte{1, 2}}
	b, err := e.MarshalBinary()
	require.NoError(t, err)

	msg, err := ofp.Decode(b)
	require.NoError(t, err)
	got := msg.(*ofp.Error)
	assert.Equal(t, "BUNDLE_FAILED", got.TypeName())
	assert.Equal(t, uint16(8), got.Code)
	assert.Equal(t, []byte{1, 2}, got.Data)
}

func TestHelloNegotiation(t *testing.T) {
	b, err := ofp.NewHello().MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x05, 0, 0, 16, 0, 0, 0, 0,
		0, 1, 0, 8, 0, 0, 0, 0x20,
	}, b)

	msg, err := ofp.Decode(b)
	require.NoError(t, err)
	hello := msg.(*ofp.Hello)
	assert.True(t, hello.Supports(ofp.Version))
	assert.False(t, hello.Supports(0x04))

	legacy := &ofp.Hello{Version: 0x04}
	assert.False(t, legacy.Supports(ofp.Version), "an OpenFlow 1.3 hello without bitmap cannot speak 1.4")
	newer := &ofp.Hello{Version: 0x06}
	assert.True(t, newer.Supports(ofp.Version))
}

func TestParseFlow(t *testing.T) {
	tests := []struct {
		name   string
		flow   string
		check  func(t *testing.T, fm *ofp.FlowMod)
		errMsg string
	}{
		{
			name: "multicast group flow",
			flow: "table=0,priority=100,metadata=0x1,actions=output:1,output:2,3",
			check: func(t *testing.T, fm *ofp.FlowMod) {
				assert.Equal(t, uint16(100), fm.Priority)
				v, ok := fm.Match.Get(ofp.FieldMetadata)
				require.True(t, ok)
				assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, v)
				require.Len(t, fm.Instructions, 1)
				apply := fm.Instructions[0].(ofp.ApplyActions)
				assert.Equal(t, []ofp.Action{ofp.Output{Port: 1}, ofp.Output{Port: 2}, ofp.Output{Port: 3}}, apply.Actions)
			},
		},
		{
			name: "shorthand and transport ports",
			flow: "priority=10 tcp tp_dst=80 nw_dst=10.0.0.0/8 actions=normal",
			check: func(t *testing.T, fm *ofp.FlowMod) {
				et, _ := fm.Match.Get(ofp.FieldEthType)
				assert.Equal(t, []byte{0x08, 0x00}, et)
				dst, _ := fm.Match.Get(ofp.FieldTCPDst)
				assert.Equal(t, []byte{0, 80}, dst)
				assert.Equal(t, ofp.OXM{Field: ofp.FieldIPv4Dst, Value: []byte{10, 0, 0, 0}, Mask: []byte{255, 0, 0, 0}}, fm.Match[2])
			},
		},
		{
			name: "vlan and set_field actions",
			flow: "dl_vlan=10,dl_dst=00:11:22:33:44:55,actions=strip_vlan,set_field:1->in_port,mod_vlan_vid:20,goto_table:2",
			check: func(t *testing.T, fm *ofp.FlowMod) {
				vid, _ := fm.Match.Get(ofp.FieldVLANVID)
				assert.Equal(t, []byte{0x10, 0x0a}, vid)
				require.Len(t, fm.Instructions, 2)
				assert.Equal(t, ofp.GotoTable{TableID: 2}, fm.Instructions[1])
				_, err := fm.MarshalBinary()
				require.NoError(t, err)
			},
		},
		{
			name: "drop produces no instructions",
			flow: "table=1,priority=0,actions=drop",
			check: func(t *testing.T, fm *ofp.FlowMod) {
				assert.Empty(t, fm.Instructions)
				assert.Equal(t, uint8(1), fm.TableID)
			},
		},
		{name: "missing actions", flow: "table=0,priority=1", errMsg: "missing actions"},
		{name: "unknown field", flow: "foo=1,actions=drop", errMsg: "unknown field"},
		{name: "tp without proto", flow: "tp_src=1,actions=drop", errMsg: "require nw_proto"},
		{name: "bad action", flow: "actions=explode", errMsg: "unknown action"},
		{name: "conflicting match", flow: "ip,arp,actions=drop", errMsg: "conflicting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm, err := ofp.ParseFlow(tt.flow)
			if tt.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, ofp.FlowAdd, fm.Command)
			assert.Equal(t, tt.flow, fm.Text)
			tt.check(t, fm)
		})
	}
}
