package slotcache

import (
	"context"
	"time"
)

// Callbacks run on the cache's worker. They must not call back into the same
// cache (the nested Task would queue behind the running one and never finish),
// and they should not have side effects beyond their result.
type (
	GenerateFunc[T any]       func(ctx context.Context) (T, error)
	UpdateFunc[T any]         func(ctx context.Context, old T, present bool) (T, error)
	UpdatePresentFunc[T any]  func(ctx context.Context, old T) (T, error)
	PredicateFunc[T any]      func(ctx context.Context, v T) (bool, error)
	ForcePredicateFunc[T any] func(ctx context.Context, v T, present bool) (bool, error)
)

// Slot is a point-in-time view of the cache value. Value is the zero value
// of T when Present is false. Gen counts committed writes.
type Slot[T any] struct {
	Value   T
	Present bool
	Gen     uint64
}

// Cache holds one value of T (or nothing) and applies operations in the
// order they were submitted. Every method returns at once; the Task
// completes after all previously submitted operations on the same worker.
type Cache[T any] interface {
	Name() string
	// Dedicated reports whether the cache owns its worker. A shared worker
	// extends the ordering guarantee across every cache bound to it.
	Dedicated() bool
	// Close stops a dedicated worker once queued work has drained.
	// It is a no-op for caches on a shared worker.
	Close(ctx context.Context) error

	// Create sets the value unconditionally.
	Create(ctx context.Context, v T) *Task[T]
	// CreateIfAbsent calls generate only when the slot is empty and returns
	// the resulting value. On generate failure the slot stays empty.
	CreateIfAbsent(ctx context.Context, generate GenerateFunc[T]) *Task[T]
	Read(ctx context.Context) *Task[Slot[T]]
	// ReadIfPresent fails with ErrCacheNotInitialized when the slot is empty.
	ReadIfPresent(ctx context.Context) *Task[T]
	// Update replaces the value with fn(old). fn sees present=false on an
	// empty slot, so Update may also initialize the cache.
	Update(ctx context.Context, fn UpdateFunc[T]) *Task[T]
	// UpdateIfPresent fails with ErrCacheNotInitialized when the slot is empty.
	UpdateIfPresent(ctx context.Context, fn UpdatePresentFunc[T]) *Task[T]
	Delete(ctx context.Context) *Task[struct{}]
	// MaybeDelete clears the slot if pred reports true. pred is not called
	// on an empty slot; the result is then false.
	MaybeDelete(ctx context.Context, pred PredicateFunc[T]) *Task[bool]
	// MaybeForceDelete always calls pred, with present=false on an empty slot,
	// and returns its verdict.
	MaybeForceDelete(ctx context.Context, pred ForcePredicateFunc[T]) *Task[bool]
}

// Options configure a single cache. Everything is optional.
type Options[T any] struct {
	Name    string // used in errors and hooks; "" => "slotcache"
	Worker  Worker // nil => dedicated Serial owned (and closed) by the cache
	Initial *T     // nil => starts empty

	Logger           Logger        // dedicated worker only; nil => NopLogger
	Hooks            Hooks         // nil => NopHooks
	SlowThreshold    time.Duration // report operations holding the worker longer; 0 disables
	BacklogThreshold int           // dedicated worker only; see SerialOptions
}

func New[T any](opts Options[T]) Cache[T] {
	return newCache[T](opts)
}

// NewDedicated returns a cache with its own worker. Ordering is guaranteed
// among this cache's operations only. Call Close to stop the worker.
func NewDedicated[T any](name string, initial *T) Cache[T] {
	return newCache[T](Options[T]{Name: name, Initial: initial})
}
