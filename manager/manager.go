// Package manager holds the bridge's shared state and applies
// P4Runtime writes using the fetch/compute/execute pattern.
//
// # Write Model
//
// Each update is applied under one mutex:
//  1. Fetch the current entity from the in-memory index
//  2. Compute the evaluator actions (pure, package compute)
//  3. Execute them in one evaluator transaction
//  4. Translate the committed delta into flow mutations
//  5. Queue the mutations, update the index and ring the doorbell
//
// A failure in step 3 rolls the transaction back. A failure in step 4
// happens after commit, so the committed actions are undone with an
// inverse transaction. Either way the index and the pending queue are
// untouched and the update fails.
//
// # Pending Queue
//
// Mutations are appended only here, under the mutex, and drained only
// by the reconciliation loop through TakePending, DiscardPending and
// Resync.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/btree"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/action"
	"github.com/frobware/go-p4bridge/compute"
	"github.com/frobware/go-p4bridge/doorbell"
	"github.com/frobware/go-p4bridge/interpreter"
	"github.com/frobware/go-p4bridge/ofp"
	"github.com/frobware/go-p4bridge/pipeline"
)

const btreeDegree = 16

// tableItem is one table entry in the index, ordered by the
// canonical encoding of its key.
type tableItem struct {
	key   string
	entry *p4bridge.TableEntry
}

func lessTableItem(a, b tableItem) bool { return a.key < b.key }

func lessGroup(a, b *p4bridge.MulticastGroup) bool { return a.ID < b.ID }

// Options configures a Manager.
type Options struct {
	// FlowRelation is the derived relation whose rows are flows.
	FlowRelation string
	// MulticastRelation is the base relation holding group
	// membership. Defaults to compute.MulticastRelation.
	MulticastRelation string
}

// Manager is the bridge's shared state.
type Manager struct {
	prog     interpreter.Program
	bell     *doorbell.Doorbell
	flowRel  p4bridge.RelationID
	mcastRel p4bridge.RelationID
	logger   *slog.Logger

	mu        sync.Mutex
	pipeline  *pipeline.Pipeline
	relations map[uint32]p4bridge.RelationID
	entries   *btree.BTreeG[tableItem]
	groups    *btree.BTreeG[*p4bridge.MulticastGroup]
	pending   []*ofp.FlowMod
}

// New creates a Manager over an evaluator program. The doorbell is
// rung after every successful write.
func New(prog interpreter.Program, opts Options, bell *doorbell.Doorbell, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MulticastRelation == "" {
		opts.MulticastRelation = compute.MulticastRelation
	}
	flowRel, err := prog.RelationID(opts.FlowRelation)
	if err != nil {
		return nil, fmt.Errorf("flow relation: %w", err)
	}
	mcastRel, err := prog.RelationID(opts.MulticastRelation)
	if err != nil {
		return nil, fmt.Errorf("multicast relation: %w", err)
	}
	return &Manager{
		prog:      prog,
		bell:      bell,
		flowRel:   flowRel,
		mcastRel:  mcastRel,
		logger:    WithOpIDHandler(logger).With("component", "manager"),
		relations: make(map[uint32]p4bridge.RelationID),
		entries:   btree.NewG(btreeDegree, lessTableItem),
		groups:    btree.NewG(btreeDegree, lessGroup),
	}, nil
}

// apply executes actions in one evaluator transaction and translates
// the committed delta. It must be called with m.mu held.
func (m *Manager) apply(ctx context.Context, actions []action.Action) ([]*ofp.FlowMod, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	delta, err := interpreter.Apply(ctx, m.prog, actions)
	if err != nil {
		return nil, p4bridge.ErrEvaluator{Op: "transaction", Err: err}
	}

	var undo undoStack
	undo.push(func() error {
		_, err := interpreter.Apply(ctx, m.prog, compute.InvertActions(actions))
		return err
	})

	mods, err := compute.FlowMutations(delta, m.flowRel, m.logger)
	if err != nil {
		m.logger.ErrorContext(ctx, "evaluator produced an invalid delta, undoing write", "error", err)
		if rbErr := undo.rollback(m.logger); rbErr != nil {
			return nil, errors.Join(
				p4bridge.ErrEvaluator{Op: "translate", Err: err},
				fmt.Errorf("undo failed: %w", rbErr),
			)
		}
		return nil, p4bridge.ErrEvaluator{Op: "translate", Err: err}
	}
	m.logger.DebugContext(ctx, "transaction committed", "actions", len(actions), "delta", len(delta), "mutations", len(mods))
	return mods, nil
}

// enqueue appends mutations to the pending queue and rings the
// doorbell. It must be called with m.mu held.
func (m *Manager) enqueue(mods []*ofp.FlowMod) {
	m.pending = append(m.pending, mods...)
	m.bell.Ring()
}

// TakePending removes and returns every queued mutation in arrival
// order.
func (m *Manager) TakePending() []*ofp.FlowMod {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending
	m.pending = nil
	return out
}

// DiscardPending drops every queued mutation and returns how many
// were dropped.
func (m *Manager) DiscardPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.pending)
	m.pending = nil
	return n
}

// Resync discards the pending queue and returns an ADD for every row
// of the flow relation, in index order. Together with a leading
// delete-all they rebuild the switch's flow table from scratch; the
// discarded mutations are already reflected in the dump. Rows whose
// flow does not parse are dropped and logged.
func (m *Manager) Resync(ctx context.Context) ([]*ofp.FlowMod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs, err := m.prog.DumpIndex(ctx, m.flowRel)
	if err != nil {
		return nil, p4bridge.ErrEvaluator{Op: "dump", Err: err}
	}
	m.pending = nil

	mods := make([]*ofp.FlowMod, 0, len(recs))
	for _, rec := range recs {
		fm, ok := compute.ParseFlowRecord(rec, m.logger)
		if !ok {
			continue
		}
		mods = append(mods, fm.WithCommand(ofp.FlowAdd))
	}
	m.logger.InfoContext(ctx, "resync", "flows", len(mods))
	return mods, nil
}
