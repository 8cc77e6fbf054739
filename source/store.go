package source

import (
	"context"
	"sync"
	"time"
)

// Store is a minimal byte store with TTLs.
// Must be safe for concurrent use and byte-for-byte transparent: Get returns
// exactly the []byte previously passed to Set for the same key.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (ttl <= 0 => no expiry). cost may be
	// ignored. ok=false means the store refused the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Memory is an in-process Store, mainly for tests and single-binary setups.
type Memory struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{m: make(map[string]memEntry), now: time.Now}
}

func (s *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && s.now().After(e.exp) {
		delete(s.m, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.v...), true, nil
}

func (s *Memory) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	s.mu.Unlock()
	return true, nil
}

func (s *Memory) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Memory) Close(context.Context) error { return nil }
