// Package bundle wraps flow modifications into an atomic, ordered
// OpenFlow bundle: one open request, one add message per
// modification in caller order, and one commit request.
package bundle

import (
	"iter"

	"github.com/frobware/go-p4bridge/ofp"
)

// Flags requested for every bundle.
const Flags = ofp.BundleAtomic | ofp.BundleOrdered

type state int

const (
	stateOpen state = iota
	stateInner
	stateDone
)

// Messages returns the message sequence for bundle id. The sequence
// is produced lazily and starts over from the open request each time
// it is ranged over. Mods are never reordered or merged.
func Messages(id uint32, mods []*ofp.FlowMod) iter.Seq[ofp.Message] {
	return func(yield func(ofp.Message) bool) {
		st, next := stateOpen, 0
		for st != stateDone {
			var msg ofp.Message
			switch st {
			case stateOpen:
				msg = &ofp.BundleControl{BundleID: id, CtrlType: ofp.BundleOpenRequest, Flags: Flags}
				st = stateInner
			case stateInner:
				if next < len(mods) {
					msg = &ofp.BundleAdd{BundleID: id, Flags: Flags, Message: mods[next]}
					next++
				} else {
					msg = &ofp.BundleControl{BundleID: id, CtrlType: ofp.BundleCommitRequest, Flags: Flags}
					st = stateDone
				}
			}
			if !yield(msg) {
				return
			}
		}
	}
}

// Count returns the number of messages in a bundle of n mods.
func Count(n int) int {
	return n + 2
}
