// Package asynchook moves slotcache.Hooks calls off the worker goroutine.
// Events are queued on a bounded channel and delivered by a small pool of
// goroutines; a full queue drops the event rather than stall the worker.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SlowOpEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 goroutine; queue 1000 events
//	defer hooks.Close()
//
//	c := slotcache.New[Settings](slotcache.Options[Settings]{
//	    Name:          "settings",
//	    Hooks:         hooks,
//	    SlowThreshold: 50 * time.Millisecond,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/slotcache"
)

type Hooks struct {
	inner   slotcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex // guards closed against concurrent try/Close
	closed  bool
	dropped atomic.Uint64
}

var _ slotcache.Hooks = (*Hooks)(nil)

func New(inner slotcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the goroutines. Later events are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

// Dropped counts events lost to a full queue or a closed hook.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) Backlog(w string, n int)       { h.try(func() { h.inner.Backlog(w, n) }) }
func (h *Hooks) Panic(where, op string, v any) { h.try(func() { h.inner.Panic(where, op, v) }) }
func (h *Hooks) Rejected(w string)             { h.try(func() { h.inner.Rejected(w) }) }
func (h *Hooks) SlowOp(c, op string, took time.Duration) {
	h.try(func() { h.inner.SlowOp(c, op, took) })
}
