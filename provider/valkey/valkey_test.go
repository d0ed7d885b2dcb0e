package valkey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	valkeymock "github.com/valkey-io/valkey-go/mock"
	"go.uber.org/mock/gomock"
)

func TestValkeyProvider(t *testing.T) {
	ctx := context.Background()

	t.Run("get hit", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := valkeymock.NewClient(ctrl)
		p, err := New(Config{Client: client})
		require.NoError(t, err)

		client.EXPECT().
			Do(ctx, valkeymock.Match("GET", "tc:ns:L4:k")).
			Return(valkeymock.Result(valkeymock.ValkeyBlobString("payload")))

		b, ok, err := p.Get(ctx, "tc:ns:L4:k")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []byte("payload"), b)
	})

	t.Run("get miss", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := valkeymock.NewClient(ctrl)
		p, _ := New(Config{Client: client})

		client.EXPECT().
			Do(ctx, valkeymock.Match("GET", "absent")).
			Return(valkeymock.Result(valkeymock.ValkeyNil()))

		_, ok, err := p.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("set with ttl uses PX", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := valkeymock.NewClient(ctrl)
		p, _ := New(Config{Client: client})

		client.EXPECT().
			Do(ctx, valkeymock.Match("SET", "k", "v", "PX", "1500")).
			Return(valkeymock.Result(valkeymock.ValkeyString("OK")))

		ok, err := p.Set(ctx, "k", []byte("v"), 0, 1500*time.Millisecond)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("set error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		client := valkeymock.NewClient(ctrl)
		p, _ := New(Config{Client: client})

		boom := errors.New("boom")
		client.EXPECT().
			Do(ctx, valkeymock.Match("SET", "k", "v")).
			Return(valkeymock.ErrorResult(boom))

		ok, err := p.Set(ctx, "k", []byte("v"), 0, 0)
		assert.ErrorIs(t, err, boom)
		assert.False(t, ok)
	})
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNilClient)
}
