// Package async bridges callback-style pipeline calls to callers that want
// to wait for the result.
//
// A Future is completed exactly once. Await runs a callback-style call on a
// fresh goroutine and blocks the caller until the callback fires or the
// context ends:
//
//	err := async.AwaitErr(ctx, func(done func(error)) {
//	    p.Connect(done)
//	})
package async

import (
	"context"
	"fmt"
	"sync"
)

// Future is a one-shot result.
//
// Thread Safety: all methods are safe for concurrent use.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates an incomplete future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Complete sets the result. It reports false if the future had already
// completed, in which case the result is discarded.
func (f *Future[T]) Complete(value T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Done returns a channel closed when the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Callback returns a function that completes the future. Calls after the
// first are ignored.
func (f *Future[T]) Callback() func(T, error) {
	return func(value T, err error) {
		f.Complete(value, err)
	}
}

// Await runs call on a new goroutine, passing it a completion function, and
// waits for that function to be called or ctx to end. A panic in call
// completes the wait with an error.
//
// Cancelling ctx does not cancel the underlying operation; its result is
// discarded when it arrives.
func Await[T any](ctx context.Context, call func(done func(T, error))) (T, error) {
	f := NewFuture[T]()
	cb := f.Callback()

	go func() {
		defer func() {
			if v := recover(); v != nil {
				var zero T
				cb(zero, fmt.Errorf("async: call panicked: %v", v))
			}
		}()
		call(cb)
	}()

	return f.Wait(ctx)
}

// AwaitErr is Await for calls whose callback carries only an error.
func AwaitErr(ctx context.Context, call func(done func(error))) error {
	_, err := Await(ctx, func(done func(struct{}, error)) {
		call(func(err error) { done(struct{}{}, err) })
	})
	return err
}
