package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares per-key generations across processes and survives restarts.
// With a TTL, idle generation keys expire; an expired key reads as 0.
type Redis struct {
	rdb         redis.UniversalClient
	ns          string
	ttl         time.Duration
	closeClient bool
}

var _ GenStore = (*Redis)(nil)

type RedisConfig struct {
	Client      redis.UniversalClient
	Namespace   string        // should match the engine namespace
	TTL         time.Duration // 0 disables expiry
	CloseClient bool
}

func NewRedis(cfg RedisConfig) *Redis {
	return &Redis{rdb: cfg.Client, ns: cfg.Namespace, ttl: cfg.TTL, closeClient: cfg.CloseClient}
}

func (s *Redis) key(k string) string { return "tcgen:" + s.ns + ":" + k }

func (s *Redis) Snapshot(ctx context.Context, key string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("genstore: parse %q: %w", key, err)
	}
	return u, nil
}

func (s *Redis) SnapshotMany(ctx context.Context, keys []string) (map[string]uint64, error) {
	out := make(map[string]uint64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rk := make([]string, len(keys))
	for i, k := range keys {
		rk[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, rk...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if v == nil {
			out[keys[i]] = 0
			continue
		}
		u, err := strconv.ParseUint(fmt.Sprint(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("genstore: parse %q: %w", keys[i], err)
		}
		out[keys[i]] = u
	}
	return out, nil
}

// Bump runs INCR (and EXPIRE when a TTL is set) in one round trip.
func (s *Redis) Bump(ctx context.Context, key string) (uint64, error) {
	k := s.key(key)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

func (s *Redis) Cleanup(time.Duration) {}

func (s *Redis) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
