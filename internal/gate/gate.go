// Package gate provides a single-resolution suspension primitive: any number
// of goroutines wait on a Gate, and the first Signal releases all of them.
package gate

import "sync"

// Gate is unset until Signal is called and stays set afterwards.
// The zero value is not usable; use New.
type Gate struct {
	once sync.Once
	done chan struct{}
}

// New returns an unset gate.
func New() *Gate {
	return &Gate{done: make(chan struct{})}
}

// Signal sets the gate. It never blocks. It returns true only for the call
// that transitioned the gate; later calls are no-ops.
func (g *Gate) Signal() bool {
	fired := false
	g.once.Do(func() {
		close(g.done)
		fired = true
	})
	return fired
}

// Wait blocks until the gate is set. It returns immediately if it already is.
func (g *Gate) Wait() {
	<-g.done
}

// Done returns a channel that is closed once the gate is set.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// IsSet reports whether Signal has been called.
func (g *Gate) IsSet() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
