package server

import (
	"fmt"
	"strings"

	p4v1 "github.com/p4lang/p4runtime/go/p4/v1"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/compute"
)

// protoToOperation converts a P4Runtime update type. Returns an error
// for unspecified types (parse, don't validate).
func protoToOperation(t p4v1.Update_Type) (p4bridge.Operation, error) {
	switch t {
	case p4v1.Update_INSERT:
		return p4bridge.OpInsert, nil
	case p4v1.Update_MODIFY:
		return p4bridge.OpModify, nil
	case p4v1.Update_DELETE:
		return p4bridge.OpDelete, nil
	default:
		return p4bridge.OpUnspecified, p4bridge.ErrInvalidArgument{Reason: fmt.Sprintf("unsupported update type %v", t)}
	}
}

// protoToEntity converts the entity of a write or read. Entities the
// bridge does not model become *p4bridge.UnsupportedEntity.
func protoToEntity(e *p4v1.Entity) (p4bridge.Entity, error) {
	switch x := e.GetEntity().(type) {
	case *p4v1.Entity_TableEntry:
		return protoToTableEntry(x.TableEntry)
	case *p4v1.Entity_PacketReplicationEngineEntry:
		mg := x.PacketReplicationEngineEntry.GetMulticastGroupEntry()
		if mg == nil {
			return &p4bridge.UnsupportedEntity{Kind: "clone session entry"}, nil
		}
		return protoToMulticastGroup(mg)
	case nil:
		return nil, p4bridge.ErrInvalidArgument{Reason: "entity is empty"}
	default:
		return &p4bridge.UnsupportedEntity{Kind: entityKind(x)}, nil
	}
}

// entityKind names a oneof wrapper such as *v1.Entity_CounterEntry
// as "CounterEntry".
func entityKind(x any) string {
	name := fmt.Sprintf("%T", x)
	if i := strings.LastIndex(name, "Entity_"); i >= 0 {
		return name[i+len("Entity_"):]
	}
	return name
}

func protoToTableEntry(te *p4v1.TableEntry) (*p4bridge.TableEntry, error) {
	e := &p4bridge.TableEntry{
		Key: p4bridge.TableKey{
			TableID:   te.GetTableId(),
			Priority:  te.GetPriority(),
			IsDefault: te.GetIsDefaultAction(),
		},
		Value: p4bridge.TableValue{
			ControllerMetadata: te.GetControllerMetadata(),
			Metadata:           te.GetMetadata(),
		},
	}
	matches, err := protoToMatches(te.GetMatch())
	if err != nil {
		return nil, err
	}
	e.Key.Matches = matches

	switch a := te.GetAction().GetType().(type) {
	case *p4v1.TableAction_Action:
		e.Value.Action.ID = a.Action.GetActionId()
		for _, p := range a.Action.GetParams() {
			e.Value.Action.Params = append(e.Value.Action.Params, p4bridge.ActionParam{ID: p.GetParamId(), Value: p.GetValue()})
		}
	case nil:
	default:
		return nil, p4bridge.ErrUnimplemented{What: "indirect table action"}
	}
	return e, nil
}

func protoToMatches(fms []*p4v1.FieldMatch) ([]p4bridge.FieldMatch, error) {
	out := make([]p4bridge.FieldMatch, 0, len(fms))
	for _, fm := range fms {
		m := p4bridge.FieldMatch{FieldID: fm.GetFieldId()}
		switch x := fm.GetFieldMatchType().(type) {
		case *p4v1.FieldMatch_Exact_:
			m.Kind = p4bridge.MatchExact
			m.Value = x.Exact.GetValue()
		case *p4v1.FieldMatch_Lpm:
			m.Kind = p4bridge.MatchLPM
			m.Value = x.Lpm.GetValue()
			m.PrefixLen = x.Lpm.GetPrefixLen()
		case *p4v1.FieldMatch_Ternary_:
			m.Kind = p4bridge.MatchTernary
			m.Value = x.Ternary.GetValue()
			m.Mask = x.Ternary.GetMask()
		case *p4v1.FieldMatch_Range_:
			m.Kind = p4bridge.MatchRange
			m.Value = x.Range.GetLow()
			m.High = x.Range.GetHigh()
		case *p4v1.FieldMatch_Optional_:
			m.Kind = p4bridge.MatchOptional
			m.Value = x.Optional.GetValue()
		default:
			return nil, p4bridge.ErrInvalidArgument{Reason: fmt.Sprintf("match field %d has an unsupported match type", fm.GetFieldId())}
		}
		out = append(out, m)
	}
	return out, nil
}

func protoToMulticastGroup(mg *p4v1.MulticastGroupEntry) (*p4bridge.MulticastGroup, error) {
	g := &p4bridge.MulticastGroup{ID: mg.GetMulticastGroupId()}
	for _, r := range mg.GetReplicas() {
		port, err := replicaPort(r)
		if err != nil {
			return nil, err
		}
		g.Replicas = append(g.Replicas, p4bridge.Replica{Port: port, Instance: r.GetInstance()})
	}
	return g, nil
}

// replicaPort accepts both the numeric and the bytestring port form.
func replicaPort(r *p4v1.Replica) (uint32, error) {
	switch x := r.GetPortKind().(type) {
	case *p4v1.Replica_EgressPort:
		return x.EgressPort, nil
	case *p4v1.Replica_Port:
		b := compute.Canonical(x.Port)
		if len(b) == 0 || len(b) > 4 {
			return 0, p4bridge.ErrInvalidArgument{Reason: fmt.Sprintf("replica port %x is not a 32-bit port number", x.Port)}
		}
		var n uint32
		for _, c := range b {
			n = n<<8 | uint32(c)
		}
		return n, nil
	default:
		return 0, p4bridge.ErrInvalidArgument{Reason: "replica has no port"}
	}
}

// protoToTableQuery converts a read request table entry into a
// query. Unset fields are wildcards.
func protoToTableQuery(te *p4v1.TableEntry) (compute.TableQuery, error) {
	if te.GetIsDefaultAction() {
		return compute.TableQuery{}, p4bridge.ErrUnimplemented{What: "reading default action entries"}
	}
	matches, err := protoToMatches(te.GetMatch())
	if err != nil {
		return compute.TableQuery{}, err
	}
	return compute.TableQuery{TableID: te.GetTableId(), Matches: matches, Priority: te.GetPriority()}, nil
}

func tableEntryToProto(e *p4bridge.TableEntry) *p4v1.Entity {
	te := &p4v1.TableEntry{
		TableId:            e.Key.TableID,
		Priority:           e.Key.Priority,
		ControllerMetadata: e.Value.ControllerMetadata,
		Metadata:           e.Value.Metadata,
	}
	for _, m := range e.Key.Matches {
		fm := &p4v1.FieldMatch{FieldId: m.FieldID}
		switch m.Kind {
		case p4bridge.MatchExact:
			fm.FieldMatchType = &p4v1.FieldMatch_Exact_{Exact: &p4v1.FieldMatch_Exact{Value: m.Value}}
		case p4bridge.MatchLPM:
			fm.FieldMatchType = &p4v1.FieldMatch_Lpm{Lpm: &p4v1.FieldMatch_LPM{Value: m.Value, PrefixLen: m.PrefixLen}}
		case p4bridge.MatchTernary:
			fm.FieldMatchType = &p4v1.FieldMatch_Ternary_{Ternary: &p4v1.FieldMatch_Ternary{Value: m.Value, Mask: m.Mask}}
		case p4bridge.MatchRange:
			fm.FieldMatchType = &p4v1.FieldMatch_Range_{Range: &p4v1.FieldMatch_Range{Low: m.Value, High: m.High}}
		case p4bridge.MatchOptional:
			fm.FieldMatchType = &p4v1.FieldMatch_Optional_{Optional: &p4v1.FieldMatch_Optional{Value: m.Value}}
		}
		te.Match = append(te.Match, fm)
	}
	action := &p4v1.Action{ActionId: e.Value.Action.ID}
	for _, p := range e.Value.Action.Params {
		action.Params = append(action.Params, &p4v1.Action_Param{ParamId: p.ID, Value: p.Value})
	}
	te.Action = &p4v1.TableAction{Type: &p4v1.TableAction_Action{Action: action}}
	return &p4v1.Entity{Entity: &p4v1.Entity_TableEntry{TableEntry: te}}
}

func multicastGroupToProto(g *p4bridge.MulticastGroup) *p4v1.Entity {
	mg := &p4v1.MulticastGroupEntry{MulticastGroupId: g.ID}
	for _, r := range g.Replicas {
		mg.Replicas = append(mg.Replicas, &p4v1.Replica{
			PortKind: &p4v1.Replica_EgressPort{EgressPort: r.Port},
			Instance: r.Instance,
		})
	}
	return &p4v1.Entity{Entity: &p4v1.Entity_PacketReplicationEngineEntry{
		PacketReplicationEngineEntry: &p4v1.PacketReplicationEngineEntry{
			Type: &p4v1.PacketReplicationEngineEntry_MulticastGroupEntry{MulticastGroupEntry: mg},
		},
	}}
}
