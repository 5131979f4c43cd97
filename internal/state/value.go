// Package state provides single-value observables: each holds one
// current value, replays it to every new watcher, then streams updates.
package state

import "sync"

// Value is an observable container for one value of type T.
//
// Watchers receive the value held at Watch time immediately, followed by
// every subsequent Set. Delivery keeps the freshest value: when a
// watcher's buffer is full the oldest queued value is discarded so the
// newest is never lost.
type Value[T any] struct {
	mu       sync.Mutex
	current  T
	watchers map[int]chan T
	next     int
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		current:  initial,
		watchers: make(map[int]chan T),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Set stores val and delivers it to all watchers.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current = val
	for _, ch := range v.watchers {
		deliver(ch, val)
	}
}

// Watch registers a new watcher with the given buffer size (minimum 1).
// The current value is queued before Watch returns. The second return
// value cancels the watch and closes the channel.
func (v *Value[T]) Watch(bufSize int) (<-chan T, func()) {
	if bufSize < 1 {
		bufSize = 1
	}
	ch := make(chan T, bufSize)

	v.mu.Lock()
	id := v.next
	v.next++
	v.watchers[id] = ch
	ch <- v.current
	v.mu.Unlock()

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if _, ok := v.watchers[id]; ok {
			delete(v.watchers, id)
			close(ch)
		}
	}
}

// deliver queues val, evicting the oldest buffered value when full so a
// slow watcher always converges on the latest state.
func deliver[T any](ch chan T, val T) {
	select {
	case ch <- val:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- val:
	default:
	}
}
