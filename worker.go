package slotcache

import (
	"context"
	"errors"
	"sync"
)

var errNilFunc = errors.New("slotcache: nil func submitted")

// Worker is a serialized execution context. Closures submitted to it run one
// at a time, each to completion, in the order Submit accepted them.
// Submit must not wait for previously accepted closures to finish.
// Once shut down, Submit returns ErrWorkerUnavailable (or an error wrapping it).
type Worker interface {
	Submit(ctx context.Context, fn func(context.Context)) error
}

// WorkerFunc adapts an externally owned executor to Worker. The executor is
// responsible for the one-at-a-time, in-order guarantee.
type WorkerFunc func(ctx context.Context, fn func(context.Context)) error

func (f WorkerFunc) Submit(ctx context.Context, fn func(context.Context)) error {
	return f(ctx, fn)
}

// SerialOptions tune a Serial worker. All fields are optional.
type SerialOptions struct {
	Name             string // used in logs and hooks; "" => "slotcache.worker"
	Logger           Logger // nil => NopLogger
	Hooks            Hooks  // nil => NopHooks
	BacklogThreshold int    // fire Hooks.Backlog at this mailbox depth; 0 disables
}

type job struct {
	ctx context.Context
	fn  func(context.Context)
}

// Serial is a single goroutine draining an unbounded FIFO mailbox.
// Submit never blocks behind running work; a long closure only delays the
// closures queued after it.
type Serial struct {
	name    string
	log     Logger
	hooks   Hooks
	backlog int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []job
	closed bool

	done chan struct{}
}

var _ Worker = (*Serial)(nil)

func NewSerial(opts SerialOptions) *Serial {
	s := &Serial{
		name:    coalesce(opts.Name, defaultWorkerName),
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:   coalesce[Hooks](opts.Hooks, NopHooks{}),
		backlog: opts.BacklogThreshold,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	s.log.Debug("worker started", Fields{"worker": s.name})
	return s
}

// Submit enqueues fn. It returns ErrWorkerUnavailable after Close.
func (s *Serial) Submit(ctx context.Context, fn func(context.Context)) error {
	if fn == nil {
		return errNilFunc
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fire(func() { s.hooks.Rejected(s.name) })
		s.log.Warn("submit after close rejected", Fields{"worker": s.name})
		return ErrWorkerUnavailable
	}
	s.queue = append(s.queue, job{ctx: ctx, fn: fn})
	n := len(s.queue)
	s.mu.Unlock()
	s.cond.Signal()

	if s.backlog > 0 && n >= s.backlog {
		fire(func() { s.hooks.Backlog(s.name, n) })
	}
	return nil
}

// Pending reports closures accepted but not yet started.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed after the loop has drained and exited.
func (s *Serial) Done() <-chan struct{} { return s.done }

// Close stops accepting work and waits until every accepted closure has run.
// If ctx ends first, Close returns ctx.Err() and the drain continues in the
// background. Calling Close from inside a submitted closure deadlocks unless
// ctx ends. Safe to call multiple times.
func (s *Serial) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	wasClosed := s.closed
	s.closed = true
	pending := len(s.queue)
	s.mu.Unlock()
	s.cond.Broadcast()

	if !wasClosed {
		s.log.Debug("worker closing", Fields{"worker": s.name, "pending": pending})
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serial) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			s.log.Debug("worker stopped", Fields{"worker": s.name})
			return
		}
		j := s.queue[0]
		s.queue[0] = job{} // release references held by the backing array
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(j)
	}
}

func (s *Serial) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker closure panicked", Fields{"worker": s.name, "panic": r})
			fire(func() { s.hooks.Panic(s.name, "submit", r) })
		}
	}()
	j.fn(j.ctx)
}
