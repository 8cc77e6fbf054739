// Package slotcache implements an in-memory cache of exactly one value with
// create/read/update/delete operations that are applied in strict submission
// order. Every operation is a closure enqueued on a Worker; the value is only
// touched from those closures, so no lock guards it.
//
// Components:
//   - Worker: serialized execution context. Serial (default) is one goroutine
//     draining a FIFO mailbox; WorkerFunc adapts an external executor.
//   - Cache[T]: the slot plus the CRUD operation set. Each call returns a
//     *Task[R] immediately; Await it for the result.
//   - Factory: binds many caches to one shared Worker.
//
// Ordering:
//
//	dedicated  New(Options{}) / NewDedicated  - total order per cache
//	shared     NewFactory(w, ...) + Create    - total order across all caches on w
//
// Callbacks (generate, update, predicate) run on the worker and may block or
// do I/O; operations queued behind them wait. A callback must never call into
// the cache it is running on.
//
// Usage:
//
//	c := slotcache.NewDedicated[int]("counter", nil)
//	defer c.Close(ctx)
//	n, err := c.Update(ctx, func(_ context.Context, old int, _ bool) (int, error) {
//	    return old + 1, nil
//	}).Await(ctx)
package slotcache
