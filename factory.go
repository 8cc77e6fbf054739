package slotcache

import (
	"errors"
	"time"
)

// FactoryOptions are applied to every cache a Factory creates.
type FactoryOptions struct {
	Hooks         Hooks         // nil => NopHooks
	SlowThreshold time.Duration // 0 disables SlowOp
}

// Factory binds caches to one shared worker. Operations on all of its caches
// form a single total order; a Factory never closes the worker it was given.
type Factory struct {
	worker Worker
	hooks  Hooks
	slow   time.Duration
}

func NewFactory(w Worker, opts FactoryOptions) (*Factory, error) {
	if w == nil {
		return nil, errors.New("slotcache: factory requires a worker")
	}
	return &Factory{
		worker: w,
		hooks:  coalesce[Hooks](opts.Hooks, NopHooks{}),
		slow:   opts.SlowThreshold,
	}, nil
}

// Worker returns the shared worker.
func (f *Factory) Worker() Worker { return f.worker }

// Create returns an empty cache on the factory's worker.
func Create[T any](f *Factory, name string) Cache[T] {
	return newCache(factoryOptions[T](f, name, nil))
}

// CreateWith returns a cache on the factory's worker holding initial.
func CreateWith[T any](f *Factory, name string, initial T) Cache[T] {
	return newCache(factoryOptions(f, name, &initial))
}

func factoryOptions[T any](f *Factory, name string, initial *T) Options[T] {
	return Options[T]{
		Name:          name,
		Worker:        f.worker,
		Initial:       initial,
		Hooks:         f.hooks,
		SlowThreshold: f.slow,
	}
}
