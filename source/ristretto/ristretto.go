package ristretto

import (
	"context"
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/slotcache/source"
)

type Store struct {
	c *rc.Cache
}

var _ source.Store = (*Store)(nil)

type Config struct {
	NumCounters int64
	MaxCost     int64 // in bytes; source passes the frame length as cost
	BufferItems int64
	Metrics     bool
}

func New(cfg Config) (*Store, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	if b == nil {
		s.c.Del(key) // unexpected entry shape
		return nil, false, nil
	}
	return b, true, nil
}

// Set waits for ristretto's write buffer so a following Get observes the
// value; a slot is written rarely enough for that to be cheap.
func (s *Store) Set(_ context.Context, key string, value []byte, cost int64, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	if !s.c.SetWithTTL(key, value, cost, ttl) {
		return false, nil
	}
	s.c.Wait()
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

func (s *Store) Close(_ context.Context) error {
	s.c.Close()
	return nil
}

// Metrics exposes ristretto counters when Config.Metrics is set; nil otherwise.
func (s *Store) Metrics() *rc.Metrics { return s.c.Metrics }
