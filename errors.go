package slotcache

import (
	"errors"
	"fmt"
)

var (
	// ErrCacheNotInitialized is returned by ReadIfPresent and UpdateIfPresent
	// when the slot is empty.
	ErrCacheNotInitialized = errors.New("slotcache: cache not initialized")

	// ErrWorkerUnavailable is returned when the worker no longer accepts work
	// (closed or shut down by its owner).
	ErrWorkerUnavailable = errors.New("slotcache: worker unavailable")

	// ErrNilCallback is returned when an operation is given a nil callback.
	ErrNilCallback = errors.New("slotcache: nil callback")
)

// OpError carries failures that originate in the cache itself. Callback
// errors are never wrapped in it; they reach the caller as returned.
type OpError struct {
	Cache string
	Op    string
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Cache, e.Op, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// PanicError is the failure of an operation whose callback panicked.
// The slot is left unchanged.
type PanicError struct {
	Op    string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("slotcache: %s callback panicked: %v", e.Op, e.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
