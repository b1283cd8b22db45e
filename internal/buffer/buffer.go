// Package buffer holds the reply records accumulated by gateway callbacks
// until the blocking caller drains them.
package buffer

import "sync"

// Buffer maps a request id to the ordered records received for it.
type Buffer[T any] struct {
	mu      sync.Mutex
	entries map[int64][]T
}

func New[T any]() *Buffer[T] {
	return &Buffer[T]{entries: make(map[int64][]T)}
}

// Record appends item to the list for id, creating it if needed.
func (b *Buffer[T]) Record(id int64, item T) {
	b.mu.Lock()
	b.entries[id] = append(b.entries[id], item)
	b.mu.Unlock()
}

// Drain returns the records for id in arrival order. Unless keep is set the
// entry is removed, so a second drain returns nothing.
func (b *Buffer[T]) Drain(id int64, keep bool) []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.entries[id]
	if !keep {
		delete(b.entries, id)
		return items
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}

// Peek returns a copy of the records for id without removing them.
func (b *Buffer[T]) Peek(id int64) []T {
	return b.Drain(id, true)
}

// Reset discards the records for id.
func (b *Buffer[T]) Reset(id int64) {
	b.mu.Lock()
	delete(b.entries, id)
	b.mu.Unlock()
}

func (b *Buffer[T]) Len(id int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries[id])
}

// IDs lists the request ids holding records.
func (b *Buffer[T]) IDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int64, 0, len(b.entries))
	for id := range b.entries {
		ids = append(ids, id)
	}
	return ids
}

// Grouped is a Buffer keyed first by a group name, such as the security
// type of a contract lookup. A group disappears once its last id is drained.
type Grouped[T any] struct {
	mu     sync.Mutex
	groups map[string]map[int64][]T
}

func NewGrouped[T any]() *Grouped[T] {
	return &Grouped[T]{groups: make(map[string]map[int64][]T)}
}

func (g *Grouped[T]) Record(group string, id int64, item T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids, ok := g.groups[group]
	if !ok {
		ids = make(map[int64][]T)
		g.groups[group] = ids
	}
	ids[id] = append(ids[id], item)
}

func (g *Grouped[T]) Drain(group string, id int64, keep bool) []T {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids, ok := g.groups[group]
	if !ok {
		return nil
	}
	items := ids[id]
	if keep {
		out := make([]T, len(items))
		copy(out, items)
		return out
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(g.groups, group)
	}
	return items
}

func (g *Grouped[T]) Peek(group string, id int64) []T {
	return g.Drain(group, id, true)
}

func (g *Grouped[T]) Reset(group string, id int64) {
	g.Drain(group, id, false)
}

func (g *Grouped[T]) Len(group string, id int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.groups[group][id])
}

// HasGroup reports whether any records are held under group.
func (g *Grouped[T]) HasGroup(group string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.groups[group]
	return ok
}
