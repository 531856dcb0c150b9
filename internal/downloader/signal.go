package downloader

import (
	"context"
	"sync"
)

// Signal is a one-way latch used for cooperative cancellation. Once set
// it stays set; setting it again is a no-op.
type Signal struct {
	once sync.Once
	ch   chan struct{}
}

// NewSignal returns an unset signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{})}
}

// Set latches the signal and wakes all waiters.
func (s *Signal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has been set.
func (s *Signal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the signal is set.
func (s *Signal) Done() <-chan struct{} {
	return s.ch
}

// Gate is a clearable suspension point used for pause/resume. While shut,
// Wait blocks; lifting the gate releases all waiters. A new Gate is open.
type Gate struct {
	mu   sync.Mutex
	open chan struct{} // closed while the gate is open
}

// NewGate returns an open gate.
func NewGate() *Gate {
	open := make(chan struct{})
	close(open)
	return &Gate{open: open}
}

// Shut closes the gate: subsequent Wait calls block until Lift.
func (g *Gate) Shut() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
		// already shut
	}
}

// Lift opens the gate, releasing all waiters.
func (g *Gate) Lift() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		// already open
	default:
		close(g.open)
	}
}

// IsShut reports whether the gate is currently shut.
func (g *Gate) IsShut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.open:
		return false
	default:
		return true
	}
}

// Wait blocks while the gate is shut. It returns early with ErrCancelled
// when cancel fires, or with the context error when ctx is done.
func (g *Gate) Wait(ctx context.Context, cancel *Signal) error {
	for {
		g.mu.Lock()
		open := g.open
		g.mu.Unlock()

		select {
		case <-open:
			return nil
		case <-cancel.Done():
			return ErrCancelled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
