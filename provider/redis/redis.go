// Package redis adapts go-redis/v9 as a tier backend (typically L3/L4).
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
	maxValue    int
	timeout     time.Duration
}

var _ pr.Provider = (*Redis)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client

	// MaxValueBytes refuses larger envelopes (Set returns ok=false) so one
	// oversized value cannot fill a shared instance. 0 = no limit.
	MaxValueBytes int
	// OpTimeout bounds each command when ctx has no earlier deadline.
	// 0 = rely on ctx and the client's own timeouts.
	OpTimeout time.Duration
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{
		rdb:         cfg.Client,
		closeClient: cfg.CloseClient,
		maxValue:    cfg.MaxValueBytes,
		timeout:     cfg.OpTimeout,
	}, nil
}

func (p *Redis) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return ctx, func() {}
	}
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= p.timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.timeout)
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	b, err := p.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}
	return b, true, nil
}

// Set ignores cost; Redis has no admission policy. ttl is the entry's
// remaining lifetime, so Redis expires it no later than the tier would.
func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if p.maxValue > 0 && len(value) > p.maxValue {
		return false, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	ctx, cancel := p.opCtx(ctx)
	defer cancel()
	return p.rdb.Del(ctx, key).Err()
}

// Close releases the client only when this provider owns it.
// Safe to call multiple times.
func (p *Redis) Close(context.Context) error {
	if !p.closeClient {
		return nil
	}
	if err := p.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
		return err
	}
	return nil
}
