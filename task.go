package slotcache

import "context"

// Task is the handle of one enqueued cache operation. It completes exactly
// once, with a result or a failure. Abandoning a Task (not awaiting it, or
// awaiting with a context that ends) never retracts the enqueued work.
type Task[R any] struct {
	done chan struct{}
	val  R
	err  error
}

func newTask[R any]() *Task[R] {
	return &Task[R]{done: make(chan struct{})}
}

// failedTask returns an already completed Task carrying err.
func failedTask[R any](err error) *Task[R] {
	t := newTask[R]()
	t.complete(*new(R), err)
	return t
}

// complete must be called exactly once.
func (t *Task[R]) complete(v R, err error) {
	t.val, t.err = v, err
	close(t.done)
}

// Done is closed once the operation has finished.
func (t *Task[R]) Done() <-chan struct{} { return t.done }

// Await waits for the operation and returns its result. If ctx ends first,
// Await returns ctx.Err(); the operation itself still runs to completion.
func (t *Task[R]) Await(ctx context.Context) (R, error) {
	select {
	case <-t.done:
		return t.val, t.err
	default:
	}
	select {
	case <-t.done:
		return t.val, t.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Poll returns the outcome without blocking. ok is false while the
// operation is pending.
func (t *Task[R]) Poll() (v R, ok bool, err error) {
	select {
	case <-t.done:
		return t.val, true, t.err
	default:
		var zero R
		return zero, false, nil
	}
}
