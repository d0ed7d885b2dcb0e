package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is returned by Limit for payloads over its bounds.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit wraps another codec with size bounds. MaxEncode keeps oversized
// values out of the tiers entirely; MaxDecode guards reads from shared tiers
// (Redis, Valkey) where another writer may have stored something unexpected.
// A bound <= 0 disables that check.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

var _ Codec[string] = Limit[string]{}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("%w: encoded %d > %d", ErrTooLarge, len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: decode %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
