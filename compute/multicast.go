// Package compute contains pure functions for the bridge's business
// logic. Functions in this package perform no I/O - they validate
// requests and transform them into actions and flow mutations.
package compute

import (
	"slices"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/action"
)

// MulticastRelation is the base relation holding group membership,
// one (mcast_id, port) row per member port.
const MulticastRelation = "MulticastGroup"

// MulticastOp is the direction of a multicast group change.
type MulticastOp int

const (
	// MulticastSet makes the requested ports the group's exact
	// membership. Used for INSERT and MODIFY.
	MulticastSet MulticastOp = iota
	// MulticastRemove removes the requested ports from the
	// group. Used for DELETE.
	MulticastRemove
)

// MulticastDiff is the outcome of DiffMulticastGroup.
type MulticastDiff struct {
	// Actions retract departed members, then assert new members,
	// each sorted by port.
	Actions []action.Action
	// Replicas is the group's membership after the change, in
	// instance order with instances 1..N. Empty means the group is
	// removed.
	Replicas []p4bridge.Replica
}

// MulticastRecord returns the membership row for one port.
func MulticastRecord(groupID, port uint32) p4bridge.Record {
	return p4bridge.Record{"mcast_id": int64(groupID), "port": int64(port)}
}

// IncludePorts appends a replica for each port not already present.
// Ports are considered in ascending order and each new replica takes
// instance max+1. Pure function.
func IncludePorts(replicas []p4bridge.Replica, ports []uint32) []p4bridge.Replica {
	out := slices.Clone(replicas)
	var maxInstance uint32
	present := make(map[uint32]bool, len(out))
	for _, r := range out {
		present[r.Port] = true
		maxInstance = max(maxInstance, r.Instance)
	}
	for _, port := range sortedPorts(ports) {
		if present[port] {
			continue
		}
		maxInstance++
		out = append(out, p4bridge.Replica{Port: port, Instance: maxInstance})
		present[port] = true
	}
	return out
}

// ExcludePorts drops every replica whose port is excluded. Walking the
// replicas in instance order, each surviving replica's instance is
// decreased by the number of replicas dropped before it, so the
// survivors keep their relative order and their instances stay gap
// free. Pure function.
func ExcludePorts(replicas []p4bridge.Replica, ports []uint32) []p4bridge.Replica {
	excluded := make(map[uint32]bool, len(ports))
	for _, p := range ports {
		excluded[p] = true
	}
	sorted := slices.Clone(replicas)
	slices.SortStableFunc(sorted, func(a, b p4bridge.Replica) int {
		return int(int64(a.Instance) - int64(b.Instance))
	})

	out := make([]p4bridge.Replica, 0, len(sorted))
	var dropped uint32
	for _, r := range sorted {
		if excluded[r.Port] {
			dropped++
			continue
		}
		r.Instance -= dropped
		out = append(out, r)
	}
	return out
}

// DiffMulticastGroup computes the evaluator actions and resulting
// membership for a change to group groupID whose current replicas
// are old. Ties are broken by port number only, so identical
// requests always produce identical results and a request that does
// not change membership produces no actions. Pure function.
func DiffMulticastGroup(rel p4bridge.RelationID, groupID uint32, old []p4bridge.Replica, ports []uint32, op MulticastOp) MulticastDiff {
	oldPorts := make(map[uint32]bool, len(old))
	for _, r := range old {
		oldPorts[r.Port] = true
	}
	requested := sortedPorts(ports)
	want := make(map[uint32]bool, len(requested))
	for _, p := range requested {
		want[p] = true
	}

	var removed, added []uint32
	switch op {
	case MulticastSet:
		for _, p := range sortedPorts(mapKeys(oldPorts)) {
			if !want[p] {
				removed = append(removed, p)
			}
		}
		for _, p := range requested {
			if !oldPorts[p] {
				added = append(added, p)
			}
		}
	case MulticastRemove:
		for _, p := range requested {
			if oldPorts[p] {
				removed = append(removed, p)
			}
		}
	}

	actions := make([]action.Action, 0, len(removed)+len(added))
	for _, p := range removed {
		actions = append(actions, action.DeleteValue{Relation: rel, Record: MulticastRecord(groupID, p)})
	}
	for _, p := range added {
		actions = append(actions, action.Insert{Relation: rel, Record: MulticastRecord(groupID, p)})
	}

	replicas := IncludePorts(ExcludePorts(old, removed), added)
	return MulticastDiff{Actions: actions, Replicas: replicas}
}

// sortedPorts returns the distinct ports in ascending order.
func sortedPorts(ports []uint32) []uint32 {
	out := slices.Clone(ports)
	slices.Sort(out)
	return slices.Compact(out)
}

func mapKeys(m map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
