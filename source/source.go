// Package source builds slotcache callbacks backed by an external byte store.
// The cache itself never persists anything; these helpers let generate and
// update callbacks load the value from, or write it through to, a Store.
//
// Stored bytes are framed (magic, version, generation, length) so that
// foreign or truncated entries are detected and self-healed as misses.
//
//	src, _ := source.New(source.Config[Settings]{
//	    Store: store, Codec: codec.JSON[Settings]{}, Key: "settings:v1",
//	})
//	v, err := c.CreateIfAbsent(ctx, src.Generate()).Await(ctx)
//	_, err = c.Update(ctx, src.WriteThrough(applyChange)).Await(ctx)
package source

import (
	"context"
	"errors"
	"time"

	"github.com/unkn0wn-root/slotcache"
	"github.com/unkn0wn-root/slotcache/codec"
	"github.com/unkn0wn-root/slotcache/internal/wire"
)

var (
	// ErrNotFound is returned by Load when the key is missing or its stored
	// frame could not be decoded (and was removed).
	ErrNotFound = errors.New("source: not found")
	// ErrRejected is returned by Save when the store refused the write.
	ErrRejected = errors.New("source: store rejected write")
)

// Config binds one key of a Store to values of T.
type Config[T any] struct {
	// Required
	Store Store
	Codec codec.Codec[T]
	Key   string

	TTL    time.Duration    // 0 => no expiry
	Logger slotcache.Logger // if nil, NopLogger is used
}

type Source[T any] struct {
	store Store
	codec codec.Codec[T]
	key   string
	ttl   time.Duration
	log   slotcache.Logger
}

func New[T any](cfg Config[T]) (*Source[T], error) {
	if cfg.Store == nil {
		return nil, errors.New("source: store is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("source: codec is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("source: key is required")
	}
	s := &Source[T]{
		store: cfg.Store,
		codec: cfg.Codec,
		key:   cfg.Key,
		ttl:   cfg.TTL,
		log:   slotcache.NopLogger{},
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger
	}
	return s, nil
}

// Load returns the stored value and the generation it was saved with.
func (s *Source[T]) Load(ctx context.Context) (T, uint64, error) {
	var zero T
	raw, ok, err := s.store.Get(ctx, s.key)
	if err != nil {
		return zero, 0, err
	}
	if !ok {
		return zero, 0, ErrNotFound
	}
	gen, payload, err := wire.Decode(raw)
	if err != nil {
		s.heal(ctx, "corrupt")
		return zero, 0, ErrNotFound
	}
	v, err := s.codec.Decode(payload)
	if err != nil {
		s.heal(ctx, "value_decode")
		return zero, 0, ErrNotFound
	}
	return v, gen, nil
}

// Save writes v under the next generation and returns it.
func (s *Source[T]) Save(ctx context.Context, v T) (uint64, error) {
	var gen uint64
	raw, ok, err := s.store.Get(ctx, s.key)
	if err != nil {
		return 0, err
	}
	if ok {
		// An undecodable frame restarts the count; it is overwritten below.
		if g, _, err := wire.Decode(raw); err == nil {
			gen = g
		}
	}
	payload, err := s.codec.Encode(v)
	if err != nil {
		return 0, err
	}
	frame := wire.Encode(gen+1, payload)
	ok, err = s.store.Set(ctx, s.key, frame, int64(len(frame)), s.ttl)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.log.Debug("source save rejected by store (pressure)", slotcache.Fields{"key": s.key})
		return 0, ErrRejected
	}
	return gen + 1, nil
}

// Clear removes the stored value.
func (s *Source[T]) Clear(ctx context.Context) error {
	return s.store.Del(ctx, s.key)
}

// Generate loads the stored value; a miss fails with ErrNotFound, leaving
// the cache empty.
func (s *Source[T]) Generate() slotcache.GenerateFunc[T] {
	return func(ctx context.Context) (T, error) {
		v, _, err := s.Load(ctx)
		return v, err
	}
}

// Reload replaces the cached value with the stored one. On a miss the
// current value is kept; an empty cache fails with ErrNotFound.
func (s *Source[T]) Reload() slotcache.UpdateFunc[T] {
	return func(ctx context.Context, old T, present bool) (T, error) {
		v, _, err := s.Load(ctx)
		if errors.Is(err, ErrNotFound) && present {
			return old, nil
		}
		return v, err
	}
}

// WriteThrough saves fn's result before the cache commits it. If the save
// fails the update fails and the cache keeps its previous value.
func (s *Source[T]) WriteThrough(fn slotcache.UpdateFunc[T]) slotcache.UpdateFunc[T] {
	return func(ctx context.Context, old T, present bool) (T, error) {
		v, err := fn(ctx, old, present)
		if err != nil {
			var zero T
			return zero, err
		}
		if _, err := s.Save(ctx, v); err != nil {
			var zero T
			return zero, err
		}
		return v, nil
	}
}

// ClearOnDelete returns a predicate for MaybeForceDelete that removes the
// stored value, even when the cache is already empty, and then lets the cache
// delete too. A store error aborts the delete.
func (s *Source[T]) ClearOnDelete() slotcache.ForcePredicateFunc[T] {
	return func(ctx context.Context, _ T, _ bool) (bool, error) {
		if err := s.Clear(ctx); err != nil {
			return false, err
		}
		return true, nil
	}
}

func (s *Source[T]) heal(ctx context.Context, reason string) {
	err := s.store.Del(ctx, s.key)
	s.log.Debug("source self-heal", slotcache.Fields{"key": s.key, "reason": reason, "del_err": err})
}
