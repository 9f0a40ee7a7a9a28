package p4bridge

import "slices"

// Replica is one member of a multicast group. Instances within a
// group form the sequence 1..N.
type Replica struct {
	Port     uint32
	Instance uint32
}

// MulticastGroup is a replication group. ID 0 is reserved for the
// read wildcard and is never stored, nor is a group with no
// replicas.
type MulticastGroup struct {
	ID       uint32
	Replicas []Replica
}

// Clone returns a deep copy of the group.
func (g *MulticastGroup) Clone() *MulticastGroup {
	return &MulticastGroup{ID: g.ID, Replicas: slices.Clone(g.Replicas)}
}

// Ports returns the distinct egress ports of the group in ascending
// order.
func (g *MulticastGroup) Ports() []uint32 {
	ports := make([]uint32, 0, len(g.Replicas))
	for _, r := range g.Replicas {
		ports = append(ports, r.Port)
	}
	slices.Sort(ports)
	return slices.Compact(ports)
}

func (*MulticastGroup) isEntity() {}
