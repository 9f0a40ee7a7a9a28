package manager

import (
	"context"
	"fmt"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/action"
	"github.com/frobware/go-p4bridge/compute"
)

// Write applies updates in order and returns one result per update;
// a nil result means the update was applied. A failed update leaves
// no trace and does not stop later updates.
func (m *Manager) Write(ctx context.Context, updates []p4bridge.Update) []error {
	results := make([]error, len(updates))
	for i, u := range updates {
		results[i] = m.writeOne(ctx, u)
		if results[i] != nil {
			m.logger.InfoContext(ctx, "update rejected", "index", i, "op", u.Op, "error", results[i])
		}
	}
	return results
}

func (m *Manager) writeOne(ctx context.Context, u p4bridge.Update) error {
	switch u.Op {
	case p4bridge.OpInsert, p4bridge.OpModify, p4bridge.OpDelete:
	default:
		return p4bridge.ErrInvalidArgument{Reason: "update has no operation"}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := u.Entity.(type) {
	case *p4bridge.MulticastGroup:
		if e == nil {
			break
		}
		return m.writeGroup(ctx, u.Op, e)
	case *p4bridge.TableEntry:
		if e == nil {
			break
		}
		return m.writeTableEntry(ctx, u.Op, e)
	case *p4bridge.UnsupportedEntity:
		if e == nil {
			break
		}
		return p4bridge.ErrUnimplemented{What: e.Kind}
	}
	return p4bridge.ErrInvalidArgument{Reason: "update has no entity"}
}

func (m *Manager) writeGroup(ctx context.Context, op p4bridge.Operation, g *p4bridge.MulticastGroup) error {
	if g.ID == 0 {
		return p4bridge.ErrInvalidArgument{Reason: "multicast group id 0 is reserved"}
	}
	what := fmt.Sprintf("multicast group %d", g.ID)
	old, exists := m.groups.Get(&p4bridge.MulticastGroup{ID: g.ID})

	var diffOp compute.MulticastOp
	ports := g.Ports()
	switch op {
	case p4bridge.OpInsert:
		if exists {
			return p4bridge.ErrAlreadyExists{What: what}
		}
		if len(ports) == 0 {
			return p4bridge.ErrInvalidArgument{Reason: what + " has no replicas"}
		}
		diffOp = compute.MulticastSet
	case p4bridge.OpModify:
		if !exists {
			return p4bridge.ErrNotFound{What: what}
		}
		if len(ports) == 0 {
			return p4bridge.ErrInvalidArgument{Reason: what + " has no replicas; delete it instead"}
		}
		diffOp = compute.MulticastSet
	case p4bridge.OpDelete:
		if !exists {
			return p4bridge.ErrNotFound{What: what}
		}
		if len(ports) == 0 {
			ports = old.Ports()
		}
		diffOp = compute.MulticastRemove
	}

	var oldReplicas []p4bridge.Replica
	if exists {
		oldReplicas = old.Replicas
	}
	diff := compute.DiffMulticastGroup(m.mcastRel, g.ID, oldReplicas, ports, diffOp)
	mods, err := m.apply(ctx, diff.Actions)
	if err != nil {
		return err
	}

	if len(diff.Replicas) == 0 {
		m.groups.Delete(&p4bridge.MulticastGroup{ID: g.ID})
	} else {
		m.groups.ReplaceOrInsert(&p4bridge.MulticastGroup{ID: g.ID, Replicas: diff.Replicas})
	}
	m.enqueue(mods)
	m.logger.InfoContext(ctx, "multicast group written", "op", op, "group", g.ID, "replicas", len(diff.Replicas), "mutations", len(mods))
	return nil
}

func (m *Manager) writeTableEntry(ctx context.Context, op p4bridge.Operation, e *p4bridge.TableEntry) error {
	// With no pipeline installed every table id is unknown.
	var schema *p4bridge.TableSchema
	ok := false
	if m.pipeline != nil {
		schema, ok = m.pipeline.Table(e.Key.TableID)
	}
	if !ok {
		return p4bridge.ErrNotFound{What: fmt.Sprintf("table %d", e.Key.TableID)}
	}
	rel := m.relations[schema.ID]

	var entry *p4bridge.TableEntry
	if op == p4bridge.OpDelete {
		key, err := compute.NormalizeTableKey(schema, e.Key)
		if err != nil {
			return err
		}
		entry = &p4bridge.TableEntry{Key: key}
	} else {
		var err error
		if entry, err = compute.NormalizeTableEntry(schema, e); err != nil {
			return err
		}
	}
	item := tableItem{key: entry.Key.String(), entry: entry}
	old, exists := m.entries.Get(item)
	what := "entry in table " + schema.Name

	var actions []action.Action
	switch op {
	case p4bridge.OpInsert:
		if exists {
			return p4bridge.ErrAlreadyExists{What: what}
		}
		actions = []action.Action{
			action.Insert{Relation: rel, Record: compute.TableEntryRecord(schema, entry)},
		}
	case p4bridge.OpModify:
		if !exists {
			return p4bridge.ErrNotFound{What: what}
		}
		actions = []action.Action{
			action.DeleteValue{Relation: rel, Record: compute.TableEntryRecord(schema, old.entry)},
			action.Insert{Relation: rel, Record: compute.TableEntryRecord(schema, entry)},
		}
	case p4bridge.OpDelete:
		if !exists {
			return p4bridge.ErrNotFound{What: what}
		}
		actions = []action.Action{
			action.DeleteValue{Relation: rel, Record: compute.TableEntryRecord(schema, old.entry)},
		}
	}

	mods, err := m.apply(ctx, actions)
	if err != nil {
		return err
	}
	if op == p4bridge.OpDelete {
		m.entries.Delete(item)
	} else {
		m.entries.ReplaceOrInsert(item)
	}
	m.enqueue(mods)
	m.logger.InfoContext(ctx, "table entry written", "op", op, "table", schema.Name, "mutations", len(mods))
	return nil
}
