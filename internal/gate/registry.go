package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInFlight is returned by Begin when a request with the same key is
// still waiting for its terminal callback.
var ErrInFlight = errors.New("request already in flight")

// Key identifies one outstanding request: the reply kind it waits for and
// the request id the gateway echoes back. Kinds without a request id use 0.
type Key struct {
	Kind string
	ID   int64
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

// Handle is the completion signal of a single request.
type Handle struct {
	key  Key
	once sync.Once
	done chan struct{}
}

// Done is closed when the request's terminal callback arrives.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the handle resolves or ctx ends and reports whether it
// resolved.
func (h *Handle) Wait(ctx context.Context) bool {
	select {
	case <-h.done:
		return true
	case <-ctx.Done():
		select {
		case <-h.done:
			return true
		default:
			return false
		}
	}
}

func (h *Handle) resolve() {
	h.once.Do(func() { close(h.done) })
}

// Registry tracks one completion handle per outstanding request. A terminal
// callback resolves only the handle registered under its own key, so a late
// reply for an abandoned request can never complete a newer one.
type Registry struct {
	mu      sync.Mutex
	pending map[Key]*Handle
}

func NewRegistry() *Registry {
	return &Registry{pending: make(map[Key]*Handle)}
}

// Begin registers a handle for key.
func (r *Registry) Begin(key Key) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[key]; ok {
		return nil, fmt.Errorf("%s: %w", key, ErrInFlight)
	}
	h := &Handle{key: key, done: make(chan struct{})}
	r.pending[key] = h
	return h, nil
}

// Resolve completes and forgets the handle registered for key. It returns
// false when nothing is waiting on key.
func (r *Registry) Resolve(key Key) bool {
	r.mu.Lock()
	h, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if ok {
		h.resolve()
	}
	return ok
}

// Abandon forgets h if it is still the handle registered for key.
func (r *Registry) Abandon(key Key, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.pending[key]; ok && cur == h {
		delete(r.pending, key)
	}
}

// Pending reports whether a request is waiting on key.
func (r *Registry) Pending(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Len returns the number of outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
