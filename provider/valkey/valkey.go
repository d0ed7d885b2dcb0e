// Package valkey adapts valkey-go as a tier backend.
package valkey

import (
	"context"
	"errors"
	"time"

	vk "github.com/valkey-io/valkey-go"

	pr "github.com/unkn0wn-root/tiercache/provider"
)

var ErrNilClient = errors.New("valkey provider: nil client")

type Valkey struct {
	client      vk.Client
	closeClient bool
}

var _ pr.Provider = (*Valkey)(nil)

type Config struct {
	Client      vk.Client
	CloseClient bool
}

func New(cfg Config) (*Valkey, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Valkey{client: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (p *Valkey) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := p.client.Do(ctx, p.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if vk.IsValkeyNil(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	b, err := resp.AsBytes()
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (p *Valkey) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var cmd vk.Completed
	if ttl > 0 {
		cmd = p.client.B().Set().Key(key).Value(vk.BinaryString(value)).Px(ttl).Build()
	} else {
		cmd = p.client.B().Set().Key(key).Value(vk.BinaryString(value)).Build()
	}
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Valkey) Del(ctx context.Context, key string) error {
	return p.client.Do(ctx, p.client.B().Del().Key(key).Build()).Error()
}

func (p *Valkey) Close(context.Context) error {
	if p.closeClient {
		p.client.Close()
	}
	return nil
}
