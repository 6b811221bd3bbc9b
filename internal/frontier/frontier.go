// Package frontier implements the bounded, deduplicating FIFO that drives the traversal.
package frontier

import "errors"

// ErrEmpty is returned by Pop when no keys are pending.
var ErrEmpty = errors.New("frontier is empty")

// Frontier is a FIFO of keys awaiting expansion plus the set of every key ever
// accepted. Len never exceeds the configured maximum; pushes beyond it are
// dropped and counted as drop events. Frontier is not safe for concurrent use.
type Frontier[K comparable] struct {
	max     int
	queue   []K
	head    int
	seen    map[K]struct{}
	dropped int
}

// New creates an empty frontier holding at most capacity pending keys.
func New[K comparable](capacity int) *Frontier[K] {
	return &Frontier[K]{
		max:  capacity,
		seen: make(map[K]struct{}),
	}
}

// Push enqueues key unless it was seen before or the frontier is full.
// A dropped key is not marked seen, so it can be pushed again later.
func (f *Frontier[K]) Push(key K) bool {
	if _, ok := f.seen[key]; ok {
		return false
	}
	if f.Len() >= f.max {
		f.dropped++
		return false
	}
	f.seen[key] = struct{}{}
	f.queue = append(f.queue, key)
	return true
}

// Pop removes and returns the oldest pending key.
func (f *Frontier[K]) Pop() (K, error) {
	var zero K
	if f.Len() == 0 {
		return zero, ErrEmpty
	}
	key := f.queue[f.head]
	f.queue[f.head] = zero
	f.head++
	if f.head == len(f.queue) {
		f.queue = f.queue[:0]
		f.head = 0
	} else if f.head > 1024 && f.head*2 > len(f.queue) {
		f.queue = append(f.queue[:0], f.queue[f.head:]...)
		f.head = 0
	}
	return key, nil
}

// Len returns the number of pending keys.
func (f *Frontier[K]) Len() int {
	return len(f.queue) - f.head
}

// Max returns the capacity.
func (f *Frontier[K]) Max() int {
	return f.max
}

// Seen reports whether key was ever accepted.
func (f *Frontier[K]) Seen(key K) bool {
	_, ok := f.seen[key]
	return ok
}

// Pending returns a copy of the pending keys in FIFO order.
func (f *Frontier[K]) Pending() []K {
	out := make([]K, f.Len())
	copy(out, f.queue[f.head:])
	return out
}

// SeenKeys returns every accepted key in no particular order.
func (f *Frontier[K]) SeenKeys() []K {
	out := make([]K, 0, len(f.seen))
	for key := range f.seen {
		out = append(out, key)
	}
	return out
}

// SeenCount returns the number of accepted keys.
func (f *Frontier[K]) SeenCount() int {
	return len(f.seen)
}

// Dropped returns the number of drop events: pushes discarded because the
// frontier was full. A key rejected several times counts once per rejection.
func (f *Frontier[K]) Dropped() int {
	return f.dropped
}

// Restore replaces the contents with persisted state. Pending keys beyond
// capacity are discarded, counted as dropped and left unseen like a dropped
// Push, even when the persisted seen list names them.
func (f *Frontier[K]) Restore(capacity int, pending, seen []K, dropped int) {
	f.max = capacity
	f.seen = make(map[K]struct{}, len(seen)+len(pending))
	for _, key := range seen {
		f.seen[key] = struct{}{}
	}
	f.queue = make([]K, 0, min(len(pending), capacity))
	f.head = 0
	f.dropped = dropped
	queued := make(map[K]struct{}, len(f.queue))
	for _, key := range pending {
		if _, dup := queued[key]; dup {
			continue
		}
		if len(f.queue) >= capacity {
			delete(f.seen, key)
			f.dropped++
			continue
		}
		queued[key] = struct{}{}
		f.seen[key] = struct{}{}
		f.queue = append(f.queue, key)
	}
}
