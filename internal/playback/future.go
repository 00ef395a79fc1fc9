package playback

import "context"

// Future is the result of a function running in its own goroutine.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	val    T
	err    error
}

// NewFuture starts fn. The context passed to fn is cancelled by Cancel or
// when ctx is done.
func NewFuture[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(f.done)
		defer cancel()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Wait blocks until the result is ready or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done is closed once the result is ready.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the result is available without blocking.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Cancel cancels the context passed to the function.
func (f *Future[T]) Cancel() {
	f.cancel()
}
