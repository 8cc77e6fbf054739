package slotcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var errBoom = errors.New("boom")

func newTestCache[T any](t *testing.T, initial *T) Cache[T] {
	t.Helper()
	c := New[T](Options[T]{Name: "test", Initial: initial})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return c
}

func await[R any](t *testing.T, task *Task[R]) (R, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := task.Await(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("task did not complete in time")
	}
	return v, err
}

func mustAwait[R any](t *testing.T, task *Task[R]) R {
	t.Helper()
	v, err := await(t, task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return v
}

func readSlot[T any](t *testing.T, c Cache[T]) Slot[T] {
	t.Helper()
	return mustAwait(t, c.Read(context.Background()))
}

func ptr[T any](v T) *T { return &v }

// ==============================
// CRUD semantics
// ==============================

func TestCreateThenRead(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[string](t, nil)

	if got := readSlot(t, c); got.Present {
		t.Fatalf("new cache should be empty, got %+v", got)
	}
	if got := mustAwait(t, c.Create(ctx, "a")); got != "a" {
		t.Fatalf("Create result = %q, want %q", got, "a")
	}
	want := Slot[string]{Value: "a", Present: true, Gen: 1}
	if diff := cmp.Diff(want, readSlot(t, c)); diff != "" {
		t.Fatalf("Read mismatch (-want +got):\n%s", diff)
	}
	if got := mustAwait(t, c.ReadIfPresent(ctx)); got != "a" {
		t.Fatalf("ReadIfPresent = %q, want %q", got, "a")
	}
}

func TestInitialValue(t *testing.T) {
	c := newTestCache(t, ptr(7))
	want := Slot[int]{Value: 7, Present: true, Gen: 1}
	if diff := cmp.Diff(want, readSlot(t, c)); diff != "" {
		t.Fatalf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestDeleteThenReadIfPresentFails(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr(1))

	mustAwait(t, c.Delete(ctx))
	_, err := await(t, c.ReadIfPresent(ctx))
	if !errors.Is(err, ErrCacheNotInitialized) {
		t.Fatalf("ReadIfPresent after Delete: err=%v, want ErrCacheNotInitialized", err)
	}
	var oe *OpError
	if !errors.As(err, &oe) || oe.Op != opReadIfPresent || oe.Cache != "test" {
		t.Fatalf("expected *OpError for read_if_present, got %#v", err)
	}

	// Delete is idempotent and does not count as a write on an empty slot.
	gen := readSlot(t, c).Gen
	mustAwait(t, c.Delete(ctx))
	if got := readSlot(t, c); got.Present || got.Gen != gen {
		t.Fatalf("second Delete changed state: %+v (gen before %d)", got, gen)
	}
}

func TestCreateIfAbsentOnEmptyGeneratesOnce(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[string](t, nil)

	var calls atomic.Int32
	gen := func(context.Context) (string, error) {
		calls.Add(1)
		return "fresh", nil
	}
	if got := mustAwait(t, c.CreateIfAbsent(ctx, gen)); got != "fresh" {
		t.Fatalf("CreateIfAbsent = %q, want fresh", got)
	}
	if got := mustAwait(t, c.CreateIfAbsent(ctx, gen)); got != "fresh" {
		t.Fatalf("second CreateIfAbsent = %q, want fresh", got)
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("generate called %d times, want 1", n)
	}
}

func TestCreateIfAbsentOnPresentKeepsValue(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr("existing"))

	got := mustAwait(t, c.CreateIfAbsent(ctx, func(context.Context) (string, error) {
		t.Errorf("generate must not be called on a present cache")
		return "other", nil
	}))
	if got != "existing" {
		t.Fatalf("CreateIfAbsent = %q, want existing", got)
	}
	if s := readSlot(t, c); s.Gen != 1 {
		t.Fatalf("no write expected, gen=%d", s.Gen)
	}
}

func TestCreateIfAbsentFailureLeavesEmpty(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[int](t, nil)

	_, err := await(t, c.CreateIfAbsent(ctx, func(context.Context) (int, error) { return 5, errBoom }))
	if err != errBoom {
		t.Fatalf("err=%v, want errBoom verbatim", err)
	}
	if s := readSlot(t, c); s.Present || s.Gen != 0 {
		t.Fatalf("slot should stay empty after failed generate, got %+v", s)
	}
}

func TestUpdateSeesAbsentAndInitializes(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[int](t, nil)

	got := mustAwait(t, c.Update(ctx, func(_ context.Context, old int, present bool) (int, error) {
		if present || old != 0 {
			t.Errorf("update on empty got old=%d present=%v", old, present)
		}
		return 10, nil
	}))
	if got != 10 {
		t.Fatalf("Update = %d, want 10", got)
	}
	got = mustAwait(t, c.Update(ctx, func(_ context.Context, old int, present bool) (int, error) {
		if !present {
			t.Errorf("second update should see a present value")
		}
		return old * 2, nil
	}))
	if got != 20 {
		t.Fatalf("Update = %d, want 20", got)
	}
}

func TestUpdateFailureKeepsValue(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr(3))

	_, err := await(t, c.Update(ctx, func(context.Context, int, bool) (int, error) { return 99, errBoom }))
	if err != errBoom {
		t.Fatalf("err=%v, want errBoom verbatim", err)
	}
	want := Slot[int]{Value: 3, Present: true, Gen: 1}
	if diff := cmp.Diff(want, readSlot(t, c)); diff != "" {
		t.Fatalf("slot changed after failed update (-want +got):\n%s", diff)
	}
}

func TestUpdateIfPresent(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[int](t, nil)

	_, err := await(t, c.UpdateIfPresent(ctx, func(context.Context, int) (int, error) {
		t.Errorf("fn must not run on empty cache")
		return 0, nil
	}))
	if !errors.Is(err, ErrCacheNotInitialized) {
		t.Fatalf("err=%v, want ErrCacheNotInitialized", err)
	}

	mustAwait(t, c.Create(ctx, 4))
	if got := mustAwait(t, c.UpdateIfPresent(ctx, func(_ context.Context, v int) (int, error) { return v + 1, nil })); got != 5 {
		t.Fatalf("UpdateIfPresent = %d, want 5", got)
	}

	_, err = await(t, c.UpdateIfPresent(ctx, func(context.Context, int) (int, error) { return 0, errBoom }))
	if err != errBoom {
		t.Fatalf("err=%v, want errBoom", err)
	}
	if s := readSlot(t, c); s.Value != 5 {
		t.Fatalf("value=%d after failed UpdateIfPresent, want 5", s.Value)
	}
}

func TestMaybeDelete(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[int](t, nil)

	called := false
	deleted := mustAwait(t, c.MaybeDelete(ctx, func(context.Context, int) (bool, error) {
		called = true
		return true, nil
	}))
	if deleted || called {
		t.Fatalf("on empty: deleted=%v predicate called=%v, want false/false", deleted, called)
	}

	mustAwait(t, c.Create(ctx, 8))
	if mustAwait(t, c.MaybeDelete(ctx, func(_ context.Context, v int) (bool, error) { return v > 10, nil })) {
		t.Fatalf("predicate false should not delete")
	}
	if !readSlot(t, c).Present {
		t.Fatalf("value should still be present")
	}

	_, err := await(t, c.MaybeDelete(ctx, func(context.Context, int) (bool, error) { return true, errBoom }))
	if err != errBoom {
		t.Fatalf("err=%v, want errBoom", err)
	}
	if !readSlot(t, c).Present {
		t.Fatalf("failed predicate must not delete")
	}

	if !mustAwait(t, c.MaybeDelete(ctx, func(_ context.Context, v int) (bool, error) { return v == 8, nil })) {
		t.Fatalf("predicate true should delete")
	}
	if readSlot(t, c).Present {
		t.Fatalf("value should be gone")
	}
}

func TestMaybeForceDeleteOnEmptyCallsPredicate(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[string](t, nil)

	var sawPresent *bool
	got := mustAwait(t, c.MaybeForceDelete(ctx, func(_ context.Context, v string, present bool) (bool, error) {
		sawPresent = &present
		return true, nil
	}))
	if !got {
		t.Fatalf("MaybeForceDelete = false, want predicate's true")
	}
	if sawPresent == nil || *sawPresent {
		t.Fatalf("predicate should be invoked with present=false")
	}
	if s := readSlot(t, c); s.Present || s.Gen != 0 {
		t.Fatalf("empty cache should stay empty and unwritten, got %+v", s)
	}
}

func TestMaybeForceDeleteOnPresent(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr("v"))

	if mustAwait(t, c.MaybeForceDelete(ctx, func(context.Context, string, bool) (bool, error) { return false, nil })) {
		t.Fatalf("want false")
	}
	if !readSlot(t, c).Present {
		t.Fatalf("false verdict must keep value")
	}
	if _, err := await(t, c.MaybeForceDelete(ctx, func(context.Context, string, bool) (bool, error) { return true, errBoom })); err != errBoom {
		t.Fatalf("err=%v, want errBoom", err)
	}
	if !readSlot(t, c).Present {
		t.Fatalf("failed predicate must keep value")
	}
	if !mustAwait(t, c.MaybeForceDelete(ctx, func(_ context.Context, v string, present bool) (bool, error) {
		return present && v == "v", nil
	})) {
		t.Fatalf("want true")
	}
	if readSlot(t, c).Present {
		t.Fatalf("value should be deleted")
	}
}

func TestGenCountsCommittedWrites(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[int](t, nil)

	inc := func(_ context.Context, v int, _ bool) (int, error) { return v + 1, nil }
	fail := func(context.Context, int, bool) (int, error) { return 0, errBoom }

	mustAwait(t, c.Create(ctx, 1))
	mustAwait(t, c.Update(ctx, inc))
	_, _ = await(t, c.Update(ctx, fail))
	mustAwait(t, c.Read(ctx))
	mustAwait(t, c.Delete(ctx))
	mustAwait(t, c.Delete(ctx)) // already empty

	if s := readSlot(t, c); s.Gen != 3 {
		t.Fatalf("gen=%d, want 3", s.Gen)
	}
}

func TestNilCallbacksFailFast(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[int](t, nil)

	if _, err := await(t, c.CreateIfAbsent(ctx, nil)); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("CreateIfAbsent(nil): %v", err)
	}
	if _, err := await(t, c.Update(ctx, nil)); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("Update(nil): %v", err)
	}
	if _, err := await(t, c.UpdateIfPresent(ctx, nil)); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("UpdateIfPresent(nil): %v", err)
	}
	if _, err := await(t, c.MaybeDelete(ctx, nil)); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("MaybeDelete(nil): %v", err)
	}
	if _, err := await(t, c.MaybeForceDelete(ctx, nil)); !errors.Is(err, ErrNilCallback) {
		t.Fatalf("MaybeForceDelete(nil): %v", err)
	}
}

func TestCallbackPanicLeavesSlotAndWorkerUsable(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr(1))

	_, err := await(t, c.Update(ctx, func(context.Context, int, bool) (int, error) { panic(errBoom) }))
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("want *PanicError, got %v", err)
	}
	if pe.Op != opUpdate || len(pe.Stack) == 0 || !errors.Is(err, errBoom) {
		t.Fatalf("unexpected PanicError: op=%q stack=%d unwrap=%v", pe.Op, len(pe.Stack), errors.Unwrap(err))
	}
	if s := readSlot(t, c); s.Value != 1 || s.Gen != 1 {
		t.Fatalf("slot changed after panic: %+v", s)
	}
}

// ==============================
// Ordering and concurrency
// ==============================

func TestConcurrentIncrementsNoLostUpdates(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr(0))

	const callers = 100
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if _, err := c.Update(ctx, func(_ context.Context, old int, _ bool) (int, error) {
				return old + 1, nil
			}).Await(ctx); err != nil {
				t.Errorf("Update: %v", err)
			}
		}()
	}
	wg.Wait()

	if s := readSlot(t, c); s.Value != callers {
		t.Fatalf("value=%d, want %d", s.Value, callers)
	}
}

func TestOperationsRunInSubmissionOrder(t *testing.T) {
	ctx := context.Background()
	c := newTestCache[[]int](t, nil)

	const n = 50
	tasks := make([]*Task[[]int], n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = c.Update(ctx, func(_ context.Context, old []int, _ bool) ([]int, error) {
			if i%7 == 0 {
				time.Sleep(time.Millisecond) // a slow callback must not let later ops overtake it
			}
			out := append(append([]int(nil), old...), i)
			return out, nil
		})
	}
	for i, task := range tasks {
		if got := mustAwait(t, task); len(got) != i+1 || got[i] != i {
			t.Fatalf("task %d observed %v", i, got)
		}
	}
	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	if diff := cmp.Diff(want, readSlot(t, c).Value); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentMixedOpsMatchSequentialReplay(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr(0))

	// x*3+k does not commute, so replaying the recorded steps in worker order
	// only reproduces the final value if every op saw its predecessor's output.
	const mod = 1_000_003
	type step struct{ in, k, out int }
	var mu sync.Mutex
	var steps []step

	const callers = 40
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		k := i + 1
		go func() {
			defer wg.Done()
			c.Update(ctx, func(_ context.Context, old int, _ bool) (int, error) {
				out := (old*3 + k) % mod
				mu.Lock()
				steps = append(steps, step{in: old, k: k, out: out})
				mu.Unlock()
				return out, nil
			})
		}()
	}
	wg.Wait()

	final := readSlot(t, c).Value
	mu.Lock()
	defer mu.Unlock()
	if len(steps) != callers {
		t.Fatalf("ran %d ops, want %d", len(steps), callers)
	}
	x := 0
	for i, st := range steps {
		if st.in != x {
			t.Fatalf("step %d saw %d, want %d (previous output)", i, st.in, x)
		}
		x = (x*3 + st.k) % mod
		if st.out != x {
			t.Fatalf("step %d produced %d, replay gives %d", i, st.out, x)
		}
	}
	if final != x {
		t.Fatalf("final=%d, sequential replay=%d", final, x)
	}
}

func TestLongCallbackHoldsLaterOperations(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, ptr("old"))

	release := make(chan struct{})
	started := make(chan struct{})
	upd := c.Update(ctx, func(context.Context, string, bool) (string, error) {
		close(started)
		<-release
		return "new", nil
	})
	<-started
	read := c.Read(ctx)

	select {
	case <-read.Done():
		t.Fatalf("read completed while an earlier update was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	if got := mustAwait(t, upd); got != "new" {
		t.Fatalf("update = %q", got)
	}
	if got := mustAwait(t, read); got.Value != "new" {
		t.Fatalf("read submitted after update saw %q, want new", got.Value)
	}
}

func TestAbandonedTaskStillCommits(t *testing.T) {
	c := newTestCache(t, ptr(1))

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	task := c.Update(ctx, func(cbCtx context.Context, old int, _ bool) (int, error) {
		<-release
		if cbCtx.Err() != nil {
			t.Errorf("callback ctx must not carry the caller's cancellation")
		}
		return old + 1, nil
	})
	cancel()
	if _, err := task.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await with cancelled ctx: %v", err)
	}
	if _, ok, _ := task.Poll(); ok {
		t.Fatalf("task should still be pending")
	}
	close(release)

	if got := mustAwait(t, task); got != 2 {
		t.Fatalf("abandoned update result=%d, want 2", got)
	}
	if s := readSlot(t, c); s.Value != 2 {
		t.Fatalf("abandoned update not committed: %+v", s)
	}
}

type ctxKey struct{}

func TestCallbackReceivesContextValues(t *testing.T) {
	c := newTestCache[string](t, nil)
	ctx := context.WithValue(context.Background(), ctxKey{}, "trace-1")

	got := mustAwait(t, c.CreateIfAbsent(ctx, func(cbCtx context.Context) (string, error) {
		v, _ := cbCtx.Value(ctxKey{}).(string)
		return v, nil
	}))
	if got != "trace-1" {
		t.Fatalf("ctx value not propagated, got %q", got)
	}
}

// ==============================
// Lifecycle
// ==============================

func TestCloseDedicatedRejectsLaterOps(t *testing.T) {
	ctx := context.Background()
	c := New[int](Options[int]{Name: "closing"})
	if !c.Dedicated() {
		t.Fatalf("cache without a Worker should be dedicated")
	}

	pending := c.Create(ctx, 5)
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Accepted work drains before Close returns.
	if v, ok, err := pending.Poll(); !ok || err != nil || v != 5 {
		t.Fatalf("pending op after Close: v=%d ok=%v err=%v", v, ok, err)
	}

	_, err := await(t, c.Read(ctx))
	if !errors.Is(err, ErrWorkerUnavailable) {
		t.Fatalf("op after Close: err=%v, want ErrWorkerUnavailable", err)
	}
	var oe *OpError
	if !errors.As(err, &oe) || oe.Op != opRead || oe.Cache != "closing" {
		t.Fatalf("want *OpError{closing, read}, got %#v", err)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestSlowOpHook(t *testing.T) {
	ctx := context.Background()
	h := &recHooks{}
	c := New[int](Options[int]{Name: "slow", Hooks: h, SlowThreshold: time.Millisecond})
	t.Cleanup(func() { _ = c.Close(ctx) })

	mustAwait(t, c.Update(ctx, func(context.Context, int, bool) (int, error) {
		time.Sleep(5 * time.Millisecond)
		return 1, nil
	}))
	slow := h.slowOps()
	if len(slow) != 1 || slow[0] != "slow/update" {
		t.Fatalf("SlowOp events=%v, want [slow/update]", slow)
	}
}

func TestPanicHookFromCallback(t *testing.T) {
	ctx := context.Background()
	h := &recHooks{}
	c := New[int](Options[int]{Name: "p", Hooks: h})
	t.Cleanup(func() { _ = c.Close(ctx) })

	_, _ = await(t, c.MaybeDelete(ctx, func(context.Context, int) (bool, error) { return true, nil })) // empty, predicate skipped
	mustAwait(t, c.Create(ctx, 1))
	_, _ = await(t, c.MaybeDelete(ctx, func(context.Context, int) (bool, error) { panic("bad") }))

	if p := h.panics(); len(p) != 1 || p[0] != "p/maybe_delete" {
		t.Fatalf("Panic events=%v", p)
	}
}

func TestPanickingHooksDoNotStrandTasks(t *testing.T) {
	c := New[int](Options[int]{Name: "bad-hooks", Hooks: panicHooks{}, SlowThreshold: time.Nanosecond})
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := c.Update(ctx, func(_ context.Context, old int, _ bool) (int, error) {
		time.Sleep(time.Millisecond)
		return old + 1, nil
	}).Await(ctx)
	if err != nil || got != 1 {
		t.Fatalf("Update with panicking SlowOp hook: got=%d err=%v", got, err)
	}

	_, err = c.MaybeDelete(ctx, func(context.Context, int) (bool, error) { panic("callback") }).Await(ctx)
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("want *PanicError despite panicking Panic hook, got %v", err)
	}

	s, err := c.Read(ctx).Await(ctx)
	if err != nil || !s.Present || s.Value != 1 {
		t.Fatalf("Read after hook panics: %+v %v", s, err)
	}
}

// panicHooks panics from every event.
type panicHooks struct{}

func (panicHooks) Backlog(string, int)                  { panic("backlog hook") }
func (panicHooks) SlowOp(string, string, time.Duration) { panic("slow hook") }
func (panicHooks) Panic(string, string, any)            { panic("panic hook") }
func (panicHooks) Rejected(string)                      { panic("rejected hook") }

// recHooks records events for assertions.
type recHooks struct {
	mu       sync.Mutex
	slow     []string
	panicked []string
	backlog  []int
	rejected int
}

var _ Hooks = (*recHooks)(nil)

func (h *recHooks) Backlog(_ string, pending int) {
	h.mu.Lock()
	h.backlog = append(h.backlog, pending)
	h.mu.Unlock()
}

func (h *recHooks) SlowOp(cache, op string, _ time.Duration) {
	h.mu.Lock()
	h.slow = append(h.slow, cache+"/"+op)
	h.mu.Unlock()
}

func (h *recHooks) Panic(where, op string, _ any) {
	h.mu.Lock()
	h.panicked = append(h.panicked, where+"/"+op)
	h.mu.Unlock()
}

func (h *recHooks) Rejected(string) {
	h.mu.Lock()
	h.rejected++
	h.mu.Unlock()
}

func (h *recHooks) slowOps() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.slow...)
}

func (h *recHooks) panics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.panicked...)
}
