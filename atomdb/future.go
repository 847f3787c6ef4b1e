package atomdb

import (
	"context"
	"sync"
)

// Future is the result of an asynchronous storage operation. The storage
// layer may resolve it from any goroutine; callers block in Result until
// the value is available or their context is canceled.
type Future[T any] struct {
	ready chan struct{} // closed when the result is set
	once  sync.Once

	value T
	err   error
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{ready: make(chan struct{})}
}

// ResolvedFuture returns a future already resolved to value.
func ResolvedFuture[T any](value T) *Future[T] {
	f := NewFuture[T]()
	f.Complete(value, nil)
	return f
}

// FailedFuture returns a future already resolved to err.
func FailedFuture[T any](err error) *Future[T] {
	f := NewFuture[T]()
	var zero T
	f.Complete(zero, err)
	return f
}

// Complete resolves the future. Only the first call has effect.
func (f *Future[T]) Complete(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.ready)
	})
}

// Result blocks until the future resolves or ctx is done.
func (f *Future[T]) Result(ctx context.Context) (T, error) {
	select {
	case <-f.ready:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports whether the future has resolved without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}
