// Package sloghooks reports slotcache.Hooks events through log/slog.
package sloghooks

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/slotcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SlowOpEvery  uint64
	BacklogEvery uint64
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	slowCtr    atomic.Uint64
	backlogCtr atomic.Uint64
}

var _ slotcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) Backlog(worker string, pending int) {
	if h.l == nil || !sample(h.opts.BacklogEvery, &h.backlogCtr) {
		return
	}
	h.l.Warn("slotcache.backlog",
		"worker", worker,
		"pending", pending)
}

func (h *Hooks) SlowOp(cache, op string, took time.Duration) {
	if h.l == nil || !sample(h.opts.SlowOpEvery, &h.slowCtr) {
		return
	}
	h.l.Info("slotcache.slow_op",
		"cache", cache,
		"op", op,
		"took", took)
}

func (h *Hooks) Panic(where, op string, v any) {
	if h.l == nil {
		return
	}
	h.l.Error("slotcache.panic",
		"where", where,
		"op", op,
		"value", v)
}

func (h *Hooks) Rejected(worker string) {
	if h.l == nil {
		return
	}
	h.l.Warn("slotcache.rejected",
		"worker", worker)
}
