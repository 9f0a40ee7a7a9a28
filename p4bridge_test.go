package p4bridge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-p4bridge"
)

func TestTableKeyEncodingIsCanonical(t *testing.T) {
	a := p4bridge.TableKey{
		TableID:  7,
		Priority: 10,
		Matches: []p4bridge.FieldMatch{
			{FieldID: 2, Kind: p4bridge.MatchTernary, Value: []byte{0x0a}, Mask: []byte{0xff}},
			{FieldID: 1, Kind: p4bridge.MatchLPM, Value: []byte{10, 0, 0, 0}, PrefixLen: 8},
		},
	}
	b := a.Clone()
	b.Matches[0], b.Matches[1] = b.Matches[1], b.Matches[0]

	p4bridge.SortMatches(a.Matches)
	p4bridge.SortMatches(b.Matches)
	assert.Equal(t, a.String(), b.String())
	assert.Contains(t, a.String(), "1:lpm:0a000000/8 2:ternary:0a&ff")

	c := a.Clone()
	c.Priority = 11
	assert.NotEqual(t, a.String(), c.String(), "priority is part of the key")
}

func TestCloneDoesNotAlias(t *testing.T) {
	e := &p4bridge.TableEntry{
		Key: p4bridge.TableKey{
			TableID: 1,
			Matches: []p4bridge.FieldMatch{{FieldID: 1, Kind: p4bridge.MatchExact, Value: []byte{1}}},
		},
		Value: p4bridge.TableValue{
			Action:   p4bridge.TableAction{ID: 5, Params: []p4bridge.ActionParam{{ID: 1, Value: []byte{3}}}},
			Metadata: []byte("cookie"),
		},
	}
	c := e.Clone()
	c.Key.Matches[0].Value[0] = 9
	c.Value.Action.Params[0].Value[0] = 9
	c.Value.Metadata[0] = 'C'

	m, ok := e.Key.Match(1)
	require.True(t, ok)
	assert.Equal(t, []byte{1}, m.Value)
	v, ok := e.Value.Action.Param(1)
	require.True(t, ok)
	assert.Equal(t, []byte{3}, v)
	assert.Equal(t, []byte("cookie"), e.Value.Metadata)

	_, ok = e.Key.Match(2)
	assert.False(t, ok)
}

func TestNeedsPriority(t *testing.T) {
	tests := []struct {
		kinds []p4bridge.MatchKind
		want  bool
	}{
		{kinds: nil, want: false},
		{kinds: []p4bridge.MatchKind{p4bridge.MatchExact}, want: false},
		{kinds: []p4bridge.MatchKind{p4bridge.MatchExact, p4bridge.MatchLPM}, want: false},
		{kinds: []p4bridge.MatchKind{p4bridge.MatchExact, p4bridge.MatchTernary}, want: true},
		{kinds: []p4bridge.MatchKind{p4bridge.MatchRange}, want: true},
		{kinds: []p4bridge.MatchKind{p4bridge.MatchOptional}, want: true},
	}
	for _, tt := range tests {
		s := &p4bridge.TableSchema{}
		for i, k := range tt.kinds {
			s.Fields = append(s.Fields, p4bridge.MatchFieldSchema{ID: uint32(i + 1), Kind: k})
		}
		assert.Equal(t, tt.want, s.NeedsPriority(), "%v", tt.kinds)
	}
}

func TestMulticastGroupPorts(t *testing.T) {
	g := &p4bridge.MulticastGroup{ID: 1, Replicas: []p4bridge.Replica{
		{Port: 3, Instance: 1},
		{Port: 1, Instance: 2},
		{Port: 3, Instance: 3},
	}}
	assert.Equal(t, []uint32{1, 3}, g.Ports())

	c := g.Clone()
	c.Replicas[0].Port = 9
	assert.Equal(t, uint32(3), g.Replicas[0].Port)
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"ingress.dmac":     "ingress_dmac",
		"hdr.eth.dst":      "hdr_eth_dst",
		"MyIngress.fwd_v4": "MyIngress_fwd_v4",
		"a-b c":            "a_b_c",
	}
	for in, want := range tests {
		assert.Equal(t, want, p4bridge.SanitizeName(in), in)
	}
}

func TestRecordFormatting(t *testing.T) {
	r := p4bridge.Record{"port": int64(2), "flow": "actions=drop", "key": []byte{0xab}}
	assert.Equal(t, []string{"flow", "key", "port"}, r.Columns())
	assert.Equal(t, `{flow: "actions=drop", key: 0xab, port: 2}`, r.String())

	s, ok := r.Text("flow")
	require.True(t, ok)
	assert.Equal(t, "actions=drop", s)

	_, ok = r.Text("port")
	assert.False(t, ok, "integers are not text")

	s, ok = p4bridge.Record{"flow": []byte("actions=drop")}.Text("flow")
	require.True(t, ok)
	assert.Equal(t, "actions=drop", s)
}
