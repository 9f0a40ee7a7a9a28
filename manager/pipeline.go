package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/btree"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/action"
	"github.com/frobware/go-p4bridge/compute"
	"github.com/frobware/go-p4bridge/interpreter"
	"github.com/frobware/go-p4bridge/pipeline"
)

// SetPipeline installs a new forwarding pipeline. Every table must
// have a base relation in the evaluator program. All table entries
// and multicast groups are removed in one transaction and the
// resulting deletes are queued.
func (m *Manager) SetPipeline(ctx context.Context, p *pipeline.Pipeline) error {
	relations := make(map[uint32]p4bridge.RelationID)
	for _, s := range p.Tables() {
		rel, err := m.prog.RelationID(s.Relation)
		var unknown interpreter.ErrUnknownRelation
		if errors.As(err, &unknown) {
			return p4bridge.ErrInvalidArgument{
				Reason: fmt.Sprintf("evaluator program has no relation %q for table %s", s.Relation, s.Name),
			}
		}
		if err != nil {
			return err
		}
		relations[s.ID] = rel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mods, err := m.apply(ctx, m.clearActions())
	if err != nil {
		return err
	}

	m.pipeline = p
	m.relations = relations
	m.entries = btree.NewG(btreeDegree, lessTableItem)
	m.groups = btree.NewG(btreeDegree, lessGroup)
	m.enqueue(mods)
	m.logger.InfoContext(ctx, "pipeline installed", "tables", len(relations), "mutations", len(mods))
	return nil
}

// clearActions retracts every stored row. It must be called with
// m.mu held.
func (m *Manager) clearActions() []action.Action {
	var actions []action.Action
	m.entries.Ascend(func(it tableItem) bool {
		schema, ok := m.pipeline.Table(it.entry.Key.TableID)
		if ok {
			actions = append(actions, action.DeleteValue{
				Relation: m.relations[schema.ID],
				Record:   compute.TableEntryRecord(schema, it.entry),
			})
		}
		return true
	})
	m.groups.Ascend(func(g *p4bridge.MulticastGroup) bool {
		diff := compute.DiffMulticastGroup(m.mcastRel, g.ID, g.Replicas, g.Ports(), compute.MulticastRemove)
		actions = append(actions, diff.Actions...)
		return true
	})
	return actions
}

// Pipeline returns the installed pipeline, or nil.
func (m *Manager) Pipeline() *pipeline.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipeline
}
