// Package memory is the single-process db.Store used when no external cache is configured.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/kailas-cloud/oppfinder/internal/db"
)

var (
	_ db.Store   = (*Store)(nil)
	_ db.Sweeper = (*Store)(nil)
	_ db.Counter = (*Store)(nil)
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps entries in a map guarded by a single mutex. Expired entries are
// invisible to readers immediately and reclaimed by Sweep.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close drops all entries.
func (s *Store) Close() {
	s.mu.Lock()
	s.entries = make(map[string]entry)
	s.mu.Unlock()
}

// WaitForReady returns immediately.
func (s *Store) WaitForReady(context.Context, time.Duration) error { return nil }

// Get returns a copy of the value stored at key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value without expiry.
func (s *Store) Set(_ context.Context, key string, value []byte) error {
	s.put(key, value, time.Time{})
	return nil
}

// SetWithTTL stores value and expires it after ttl. A non-positive ttl stores without expiry.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = s.now().Add(ttl)
	}
	s.put(key, value, exp)
	return nil
}

// IncrBy adds val to the integer stored at key, creating it at zero if absent.
func (s *Store) IncrBy(_ context.Context, key string, val int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.incr(key, val)
	return err
}

// IncrByWithTTL adds val and, when the key has no expiry yet, expires it after ttl.
func (s *Store) IncrByWithTTL(_ context.Context, key string, val int64, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.incr(key, val)
	if err != nil {
		return err
	}
	if e.expiresAt.IsZero() {
		e.expiresAt = s.now().Add(ttl)
		s.entries[key] = e
	}
	return nil
}

func (s *Store) incr(key string, val int64) (entry, error) {
	e, ok := s.lookup(key)
	var cur int64
	if ok {
		n, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return entry{}, &db.Error{Op: db.OpIncrBy, Err: db.ErrNotInteger}
		}
		cur = n
	}
	e.value = []byte(strconv.FormatInt(cur+val, 10))
	s.entries[key] = e
	return e, nil
}

// Expire sets a TTL on an existing key. With nx, keys that already expire are left alone.
func (s *Store) Expire(_ context.Context, key string, ttl time.Duration, nx bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil
	}
	if nx && !e.expiresAt.IsZero() {
		return nil
	}
	e.expiresAt = s.now().Add(ttl)
	s.entries[key] = e
	return nil
}

// Del removes key. Missing keys are not an error.
func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Exists reports whether key holds a live value.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.lookup(key)
	return ok, nil
}

// Sweep deletes every entry expired at now and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) put(key string, value []byte, exp time.Time) {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	s.entries[key] = entry{value: v, expiresAt: exp}
	s.mu.Unlock()
}

// lookup must be called with mu held.
func (s *Store) lookup(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok || e.expired(s.now()) {
		return entry{}, false
	}
	return e, true
}
