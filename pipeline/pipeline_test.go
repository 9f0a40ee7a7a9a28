package pipeline_test

import (
	"os"
	"path/filepath"
	"testing"

	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/pipeline"
)

const snvsP4Info = "../examples/snvs/snvs.p4info.txt"

func TestLoadSnvs(t *testing.T) {
	p, err := pipeline.Load(snvsP4Info)
	require.NoError(t, err)

	tables := p.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "SnvsIngress.InputVlan", tables[0].Name)
	assert.Equal(t, "SnvsIngress_InputVlan", tables[0].Relation)
	assert.True(t, tables[0].NeedsPriority(), "optional field requires a priority")

	dmac, ok := p.Table(33554434)
	require.True(t, ok)
	assert.Equal(t, "SnvsIngress_Dmac", dmac.Relation)
	assert.False(t, dmac.NeedsPriority())
	require.Len(t, dmac.Fields, 2)
	assert.Equal(t, p4bridge.MatchFieldSchema{ID: 2, Name: "hdr.ethernet.dst", Bitwidth: 48, Kind: p4bridge.MatchExact}, dmac.Fields[1])
	require.Contains(t, dmac.Actions, uint32(16777219))
	assert.Equal(t, []p4bridge.ParamSchema{{ID: 1, Name: "port", Bitwidth: 9}}, dmac.Actions[16777219].Params)

	byName, ok := p.TableByName("SnvsIngress.Dmac")
	require.True(t, ok)
	assert.Same(t, dmac, byName)

	assert.Contains(t, p.Describe(), "match hdr.vlan.vid: optional bit<12>")
}

func TestParseBinary(t *testing.T) {
	p, err := pipeline.Load(snvsP4Info)
	require.NoError(t, err)

	data, err := proto.Marshal(p.P4Info())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snvs.p4info.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))

	bin, err := pipeline.Load(path)
	require.NoError(t, err)
	assert.True(t, proto.Equal(p.P4Info(), bin.P4Info()))
}

func TestParseGarbage(t *testing.T) {
	_, err := pipeline.Parse([]byte("tables { this is not"))
	assert.ErrorContains(t, err, "neither text")
}

func table(id uint32, name string, fields []*configv1.MatchField, actions ...uint32) *configv1.Table {
	t := &configv1.Table{Preamble: &configv1.Preamble{Id: id, Name: name}, MatchFields: fields}
	for _, a := range actions {
		t.ActionRefs = append(t.ActionRefs, &configv1.ActionRef{Id: a})
	}
	return t
}

func field(id uint32, name string, mt configv1.MatchField_MatchType) *configv1.MatchField {
	return &configv1.MatchField{
		Id:       id,
		Name:     name,
		Bitwidth: 8,
		Match:    &configv1.MatchField_MatchType_{MatchType: mt},
	}
}

func TestNewRejects(t *testing.T) {
	drop := &configv1.Action{Preamble: &configv1.Preamble{Id: 1, Name: "drop"}}
	tests := []struct {
		name   string
		info   *configv1.P4Info
		errMsg string
	}{
		{
			name: "unknown action",
			info: &configv1.P4Info{Tables: []*configv1.Table{
				table(10, "t", []*configv1.MatchField{field(1, "f", configv1.MatchField_EXACT)}, 2),
			}, Actions: []*configv1.Action{drop}},
			errMsg: "unknown action 2",
		},
		{
			name: "unsupported match type",
			info: &configv1.P4Info{Tables: []*configv1.Table{
				table(10, "t", []*configv1.MatchField{field(1, "f", configv1.MatchField_UNSPECIFIED)}, 1),
			}, Actions: []*configv1.Action{drop}},
			errMsg: "unsupported match type",
		},
		{
			name: "relation clash",
			info: &configv1.P4Info{Tables: []*configv1.Table{
				table(10, "a.b", nil, 1),
				table(11, "a_b", nil, 1),
			}, Actions: []*configv1.Action{drop}},
			errMsg: "same relation",
		},
		{
			name: "duplicate id",
			info: &configv1.P4Info{Tables: []*configv1.Table{
				table(10, "a", nil, 1),
				table(10, "b", nil, 1),
			}, Actions: []*configv1.Action{drop}},
			errMsg: "duplicate table id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipeline.New(tt.info)
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}
