package slotcache

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

const (
	opCreate           = "create"
	opCreateIfAbsent   = "create_if_absent"
	opRead             = "read"
	opReadIfPresent    = "read_if_present"
	opUpdate           = "update"
	opUpdateIfPresent  = "update_if_present"
	opDelete           = "delete"
	opMaybeDelete      = "maybe_delete"
	opMaybeForceDelete = "maybe_force_delete"
)

type cache[T any] struct {
	name   string
	worker Worker
	owned  *Serial // set when the cache created its worker
	hooks  Hooks
	slow   time.Duration

	// Touched only from closures running on worker.
	value   T
	present bool
	gen     uint64
}

var _ Cache[struct{}] = (*cache[struct{}])(nil)

func newCache[T any](opts Options[T]) *cache[T] {
	c := &cache[T]{
		name:  coalesce(opts.Name, defaultCacheName),
		hooks: coalesce[Hooks](opts.Hooks, NopHooks{}),
		slow:  opts.SlowThreshold,
	}
	if opts.Worker != nil {
		c.worker = opts.Worker
	} else {
		c.owned = NewSerial(SerialOptions{
			Name:             c.name + ".worker",
			Logger:           opts.Logger,
			Hooks:            c.hooks,
			BacklogThreshold: opts.BacklogThreshold,
		})
		c.worker = c.owned
	}
	// No closure can run before the constructor returns, so seeding here
	// does not race with the worker.
	if opts.Initial != nil {
		c.value, c.present, c.gen = *opts.Initial, true, 1
	}
	return c
}

func (c *cache[T]) Name() string    { return c.name }
func (c *cache[T]) Dedicated() bool { return c.owned != nil }

func (c *cache[T]) Close(ctx context.Context) error {
	if c.owned == nil {
		return nil
	}
	return c.owned.Close(ctx)
}

func (c *cache[T]) Create(ctx context.Context, v T) *Task[T] {
	return submit(ctx, c, opCreate, func(context.Context) (T, error) {
		c.set(v)
		return v, nil
	})
}

func (c *cache[T]) CreateIfAbsent(ctx context.Context, generate GenerateFunc[T]) *Task[T] {
	if generate == nil {
		return failedTask[T](c.opErr(opCreateIfAbsent, ErrNilCallback))
	}
	return submit(ctx, c, opCreateIfAbsent, func(ctx context.Context) (T, error) {
		if c.present {
			return c.value, nil
		}
		v, err := generate(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		c.set(v)
		return v, nil
	})
}

func (c *cache[T]) Read(ctx context.Context) *Task[Slot[T]] {
	return submit(ctx, c, opRead, func(context.Context) (Slot[T], error) {
		return c.snapshot(), nil
	})
}

func (c *cache[T]) ReadIfPresent(ctx context.Context) *Task[T] {
	return submit(ctx, c, opReadIfPresent, func(context.Context) (T, error) {
		if !c.present {
			var zero T
			return zero, c.opErr(opReadIfPresent, ErrCacheNotInitialized)
		}
		return c.value, nil
	})
}

func (c *cache[T]) Update(ctx context.Context, fn UpdateFunc[T]) *Task[T] {
	if fn == nil {
		return failedTask[T](c.opErr(opUpdate, ErrNilCallback))
	}
	return submit(ctx, c, opUpdate, func(ctx context.Context) (T, error) {
		v, err := fn(ctx, c.value, c.present)
		if err != nil {
			var zero T
			return zero, err
		}
		c.set(v)
		return v, nil
	})
}

func (c *cache[T]) UpdateIfPresent(ctx context.Context, fn UpdatePresentFunc[T]) *Task[T] {
	if fn == nil {
		return failedTask[T](c.opErr(opUpdateIfPresent, ErrNilCallback))
	}
	return submit(ctx, c, opUpdateIfPresent, func(ctx context.Context) (T, error) {
		var zero T
		if !c.present {
			return zero, c.opErr(opUpdateIfPresent, ErrCacheNotInitialized)
		}
		v, err := fn(ctx, c.value)
		if err != nil {
			return zero, err
		}
		c.set(v)
		return v, nil
	})
}

func (c *cache[T]) Delete(ctx context.Context) *Task[struct{}] {
	return submit(ctx, c, opDelete, func(context.Context) (struct{}, error) {
		if c.present {
			c.clear()
		}
		return struct{}{}, nil
	})
}

func (c *cache[T]) MaybeDelete(ctx context.Context, pred PredicateFunc[T]) *Task[bool] {
	if pred == nil {
		return failedTask[bool](c.opErr(opMaybeDelete, ErrNilCallback))
	}
	return submit(ctx, c, opMaybeDelete, func(ctx context.Context) (bool, error) {
		if !c.present {
			return false, nil
		}
		ok, err := pred(ctx, c.value)
		if err != nil {
			return false, err
		}
		if ok {
			c.clear()
		}
		return ok, nil
	})
}

func (c *cache[T]) MaybeForceDelete(ctx context.Context, pred ForcePredicateFunc[T]) *Task[bool] {
	if pred == nil {
		return failedTask[bool](c.opErr(opMaybeForceDelete, ErrNilCallback))
	}
	return submit(ctx, c, opMaybeForceDelete, func(ctx context.Context) (bool, error) {
		ok, err := pred(ctx, c.value, c.present)
		if err != nil {
			return false, err
		}
		if ok && c.present {
			c.clear()
		}
		return ok, nil
	})
}

func (c *cache[T]) set(v T) {
	c.value, c.present = v, true
	c.gen++
}

func (c *cache[T]) clear() {
	var zero T
	c.value, c.present = zero, false
	c.gen++
}

func (c *cache[T]) snapshot() Slot[T] {
	return Slot[T]{Value: c.value, Present: c.present, Gen: c.gen}
}

func (c *cache[T]) opErr(op string, err error) error {
	return &OpError{Cache: c.name, Op: op, Err: err}
}

// submit enqueues body on the cache's worker and wires its outcome to a Task.
// The submitter's ctx values reach body but its cancellation does not:
// accepted work always runs.
func submit[T, R any](ctx context.Context, c *cache[T], op string, body func(context.Context) (R, error)) *Task[R] {
	if ctx == nil {
		ctx = context.Background()
	}
	t := newTask[R]()
	err := c.worker.Submit(context.WithoutCancel(ctx), func(wctx context.Context) {
		start := time.Now()
		v, err := guard(wctx, c, op, body)
		took := time.Since(start)
		t.complete(v, err)
		if c.slow > 0 && took > c.slow {
			fire(func() { c.hooks.SlowOp(c.name, op, took) })
		}
	})
	if err != nil {
		if !errors.Is(err, ErrWorkerUnavailable) {
			err = fmt.Errorf("%w: %w", ErrWorkerUnavailable, err)
		}
		return failedTask[R](c.opErr(op, err))
	}
	return t
}

// guard turns a callback panic into a *PanicError. Mutations happen only
// after the callback returns, so a panic leaves the slot as it was.
func guard[T, R any](ctx context.Context, c *cache[T], op string, body func(context.Context) (R, error)) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Op: op, Value: r, Stack: debug.Stack()}
			fire(func() { c.hooks.Panic(c.name, op, r) })
		}
	}()
	return body(ctx)
}
