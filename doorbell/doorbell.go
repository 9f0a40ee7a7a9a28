// Package doorbell provides a wait-able single-bit signal that lets
// any goroutine wake a loop blocked in a select.
package doorbell

// Doorbell is a level-triggered flag. Ring sets it, Clear tests and
// resets it, and C becomes readable while it is set. A Ring that
// happens before the owner selects on C is never lost.
type Doorbell struct {
	ch chan struct{}
}

// New returns an unrung doorbell.
func New() *Doorbell {
	return &Doorbell{ch: make(chan struct{}, 1)}
}

// Ring sets the doorbell. It never blocks.
func (d *Doorbell) Ring() {
	select {
	case d.ch <- struct{}{}:
	default:
	}
}

// Clear resets the doorbell and reports whether it was set.
func (d *Doorbell) Clear() bool {
	select {
	case <-d.ch:
		return true
	default:
		return false
	}
}

// C returns the channel that is readable while the doorbell is set.
// Receiving from it clears the doorbell.
func (d *Doorbell) C() <-chan struct{} {
	return d.ch
}
