package manager

import (
	"fmt"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/compute"
)

// ReadTableEntries returns copies of every stored entry the query
// selects, in index order.
func (m *Manager) ReadTableEntries(q compute.TableQuery) []*p4bridge.TableEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*p4bridge.TableEntry
	visit := func(it tableItem) bool {
		if q.TableID != 0 && it.entry.Key.TableID != q.TableID {
			return false
		}
		if q.Selects(it.entry) {
			out = append(out, it.entry.Clone())
		}
		return true
	}
	if q.TableID == 0 {
		m.entries.Ascend(visit)
	} else {
		// Keys start with the zero-padded table id.
		m.entries.AscendGreaterOrEqual(tableItem{key: fmt.Sprintf("%010d/", q.TableID)}, visit)
	}
	return out
}

// ReadMulticastGroups returns a copy of group id, or of every group
// in id order when id is 0.
func (m *Manager) ReadMulticastGroups(id uint32) []*p4bridge.MulticastGroup {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != 0 {
		g, ok := m.groups.Get(&p4bridge.MulticastGroup{ID: id})
		if !ok {
			return nil
		}
		return []*p4bridge.MulticastGroup{g.Clone()}
	}
	out := make([]*p4bridge.MulticastGroup, 0, m.groups.Len())
	m.groups.Ascend(func(g *p4bridge.MulticastGroup) bool {
		out = append(out, g.Clone())
		return true
	})
	return out
}
