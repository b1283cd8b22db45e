// Package gate provides the completion signals that turn asynchronous
// gateway callbacks into blocking calls.
package gate

import (
	"context"
	"sync"
	"time"
)

// Gate is a resettable one-shot signal. Signal releases every current and
// future waiter until the next Clear.
type Gate struct {
	mu  sync.Mutex
	ch  chan struct{}
	set bool
}

// New returns a cleared gate.
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Clear resets the gate. Waiters that already returned are unaffected.
func (g *Gate) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.set {
		g.ch = make(chan struct{})
		g.set = false
	}
}

// Signal sets the gate. Signalling a set gate is a no-op.
func (g *Gate) Signal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.set {
		close(g.ch)
		g.set = true
	}
}

// IsSet reports whether the gate is currently signalled.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.set
}

func (g *Gate) done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ch
}

// Wait blocks until the gate is signalled or ctx ends. It returns true only
// when the gate was signalled.
func (g *Gate) Wait(ctx context.Context) bool {
	select {
	case <-g.done():
		return true
	case <-ctx.Done():
		return g.IsSet()
	}
}

// WaitTimeout waits at most d. A non-positive d waits forever.
func (g *Gate) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return g.Wait(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return g.Wait(ctx)
}
