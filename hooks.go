package slotcache

import "time"

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: they run on the worker
// goroutine or on the submitting goroutine.
type Hooks interface {
	// Backlog fires on Submit when the mailbox holds at least the worker's
	// BacklogThreshold closures (including the new one).
	Backlog(worker string, pending int)

	// SlowOp fires after an operation held the worker longer than the cache's
	// SlowThreshold. op ∈ {"create", "create_if_absent", "read", "read_if_present",
	// "update", "update_if_present", "delete", "maybe_delete", "maybe_force_delete"}
	SlowOp(cache, op string, took time.Duration)

	// Panic fires when a panic was recovered. where is the cache or worker name.
	Panic(where, op string, v any)

	// Rejected fires when Submit is called on a closed worker.
	Rejected(worker string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Backlog(string, int)                  {}
func (NopHooks) SlowOp(string, string, time.Duration) {}
func (NopHooks) Panic(string, string, any)            {}
func (NopHooks) Rejected(string)                      {}

// fire runs one hook call and drops any panic it raises, so a faulty Hooks
// cannot strand a Task or kill the worker goroutine.
func fire(call func()) {
	defer func() { _ = recover() }()
	call()
}
