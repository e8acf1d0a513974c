package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/oppfinder/internal/db"
)

// Get returns the value at key or db.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.do(ctx, s.client.B().Get().Key(key).Build()).AsBytes()
	switch {
	case rueidis.IsRedisNil(err):
		return nil, db.ErrKeyNotFound
	case err != nil:
		return nil, &db.Error{Op: db.OpGet, Err: err}
	}
	return data, nil
}

// Set stores value at key without expiry.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(rueidis.BinaryString(value)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// SetWithTTL stores value at key for ttl. Sub-second TTLs round up to one second.
func (s *Store) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.client.B().Set().Key(key).Value(rueidis.BinaryString(value)).Ex(max(ttl, time.Second)).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSet, Err: err}
	}
	return nil
}

// IncrBy adds val to the integer at key.
func (s *Store) IncrBy(ctx context.Context, key string, val int64) error {
	if err := s.do(ctx, s.incrBy(key, val)).Error(); err != nil {
		return incrError(err)
	}
	return nil
}

// IncrByWithTTL adds val to the counter at key and starts its expiry on first
// write, pipelining INCRBY and EXPIRE NX in one round trip.
func (s *Store) IncrByWithTTL(ctx context.Context, key string, val int64, ttl time.Duration) error {
	res := s.doMulti(ctx, s.incrBy(key, val), s.expire(key, ttl, true))
	if err := res[0].Error(); err != nil {
		return incrError(err)
	}
	if err := res[1].Error(); err != nil {
		return &db.Error{Op: db.OpExpire, Err: err}
	}
	return nil
}

// Expire sets a TTL on key. With nx, a key that already expires keeps its TTL.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error {
	if err := s.do(ctx, s.expire(key, ttl, nx)).Error(); err != nil {
		return &db.Error{Op: db.OpExpire, Err: err}
	}
	return nil
}

// Del removes key. Missing keys are not an error.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return &db.Error{Op: db.OpDel, Err: err}
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.do(ctx, s.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, &db.Error{Op: db.OpExists, Err: err}
	}
	return n > 0, nil
}

func (s *Store) incrBy(key string, val int64) rueidis.Completed {
	return s.client.B().Incrby().Key(key).Increment(val).Build()
}

func (s *Store) expire(key string, ttl time.Duration, nx bool) rueidis.Completed {
	secs := int64(max(ttl, time.Second) / time.Second)
	if nx {
		return s.client.B().Expire().Key(key).Seconds(secs).Nx().Build()
	}
	return s.client.B().Expire().Key(key).Seconds(secs).Build()
}

func incrError(err error) error {
	if re, ok := rueidis.IsRedisErr(err); ok && strings.Contains(strings.ToLower(re.Error()), "not an integer") {
		return &db.Error{Op: db.OpIncrBy, Err: db.ErrNotInteger}
	}
	return &db.Error{Op: db.OpIncrBy, Err: err}
}
