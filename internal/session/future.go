package session

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	observeNone int32 = iota
	observeWait
	observeThen
)

// Future is the result of an asynchronous session operation. It resolves
// exactly once. A future is observed either by Wait, any number of times, or
// by a single Then continuation.
type Future[T any] struct {
	done     chan struct{}
	once     sync.Once
	value    T
	err      error
	observer atomic.Int32
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolvedFuture returns a future that has already completed.
func resolvedFuture[T any](value T, err error) *Future[T] {
	f := newFuture[T]()
	f.resolve(value, err)
	return f
}

// resolve completes the future. Only the first call has an effect.
func (f *Future[T]) resolve(value T, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
		resolved = true
	})
	return resolved
}

func (f *Future[T]) fail(err error) bool {
	var zero T
	return f.resolve(zero, err)
}

// Done is closed when the future resolves
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done. Giving up on the wait
// does not cancel the operation.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	var zero T
	if !f.observer.CompareAndSwap(observeNone, observeWait) && f.observer.Load() != observeWait {
		return zero, ErrAlreadyObserved
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Then registers fn to run once the future resolves. fn always runs on its own
// goroutine, never on the goroutine that resolved the future.
func (f *Future[T]) Then(fn func(T, error)) error {
	if !f.observer.CompareAndSwap(observeNone, observeThen) {
		return ErrAlreadyObserved
	}

	go func() {
		<-f.done
		fn(f.value, f.err)
	}()
	return nil
}
