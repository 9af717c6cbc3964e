// Package inbox delivers inbound pipeline data to waiting consumers.
//
// An Inbox is a FIFO queue with a blocking Get. The Manager keeps one inbox
// per routing key: C2D messages and twin patches each have a single inbox,
// input messages are keyed by input name and method requests by method name
// with a default inbox for methods nobody is waiting on by name.
package inbox

import (
	"context"
	"sync"
)

// Inbox is an unbounded FIFO queue with blocking retrieval.
//
// Thread Safety: all methods are safe for concurrent use.
type Inbox[T any] struct {
	mu    sync.Mutex
	items []T
	// signal is closed and replaced on every Put, waking all waiters.
	signal chan struct{}
}

// New creates an empty inbox.
func New[T any]() *Inbox[T] {
	return &Inbox[T]{signal: make(chan struct{})}
}

// Put appends item and wakes any waiting Get.
func (in *Inbox[T]) Put(item T) {
	in.mu.Lock()
	in.items = append(in.items, item)
	close(in.signal)
	in.signal = make(chan struct{})
	in.mu.Unlock()
}

// Get removes and returns the oldest item, blocking until one is available
// or ctx is done.
func (in *Inbox[T]) Get(ctx context.Context) (T, error) {
	for {
		in.mu.Lock()
		if len(in.items) > 0 {
			item := in.pop()
			in.mu.Unlock()
			return item, nil
		}
		wait := in.signal
		in.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// TryGet removes and returns the oldest item without blocking.
func (in *Inbox[T]) TryGet() (T, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.items) == 0 {
		var zero T
		return zero, false
	}
	return in.pop(), true
}

// Len returns the number of queued items.
func (in *Inbox[T]) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}

// Empty reports whether the inbox has no items.
func (in *Inbox[T]) Empty() bool {
	return in.Len() == 0
}

// Clear discards every queued item. Waiters keep waiting.
func (in *Inbox[T]) Clear() {
	in.mu.Lock()
	clear(in.items)
	in.items = in.items[:0]
	in.mu.Unlock()
}

// pop must be called with in.mu held and at least one item queued.
func (in *Inbox[T]) pop() T {
	item := in.items[0]
	var zero T
	in.items[0] = zero
	in.items = in.items[1:]
	return item
}
