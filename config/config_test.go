package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache"
	c "github.com/unkn0wn-root/tiercache/codec"
)

type item struct {
	ID    string `json:"id" msgpack:"id"`
	Count int    `json:"count" msgpack:"count"`
}

func TestParseFull(t *testing.T) {
	f, err := Parse(strings.NewReader(`
namespace: app:test
default_ttl: 10m
strategy: write-behind
serialization: msgpack
compression: true
logger: {kind: slog, level: debug}
queue: {buffer_size: 64, flush_interval: 20ms}
redis: {addr: localhost:6379}
genstore: redis
tiers:
  L1: {backend: memory, max_entries: 500}
  L2: {backend: ristretto, max_entries: 5000}
  L4: {backend: redis, max_entries: -1}
`))
	require.NoError(t, err)
	assert.Equal(t, "app:test", f.Namespace)
	assert.Equal(t, 10*time.Minute, f.DefaultTTL)
	assert.Equal(t, 20*time.Millisecond, f.Queue.FlushInterval)
	assert.Equal(t, BackendRistretto, f.Tiers[tiercache.L2].Backend)
	assert.Equal(t, -1, f.Tiers[tiercache.L4].MaxEntries)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "namespace: x\nbogus: 1\n",
		"bad tier":         "tiers: {L9: {backend: memory}}\n",
		"bad backend":      "tiers: {L1: {backend: memcached}}\n",
		"redis no addr":    "tiers: {L4: {backend: redis}}\n",
		"valkey no addr":   "tiers: {L4: {backend: valkey}}\n",
		"bad strategy":     "strategy: write-sideways\n",
		"bad codec":        "serialization: xml\n",
		"bad logger":       "logger: {kind: log4j}\n",
		"genstore no addr": "genstore: redis\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	f, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Tiers)
}

func TestBuildEngineOverRealBackends(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	f, err := Parse(strings.NewReader(`
namespace: app:test
strategy: write-through
serialization: msgpack
compression: true
logger: {kind: zap, level: warn}
redis: {addr: ` + mr.Addr() + `}
genstore: redis
tiers:
  L1: {max_entries: 10}
  L2: {backend: ristretto}
  L3: {backend: bigcache, bigcache: {shards: 16}}
  L4: {backend: redis}
`))
	require.NoError(t, err)

	opts, cleanup, err := Build[item](ctx, f)
	require.NoError(t, err)
	assert.IsType(t, c.Msgpack[item]{}, opts.Codec)

	e, err := tiercache.New(opts)
	require.NoError(t, err)
	require.NoError(t, e.Init(ctx))

	require.NoError(t, e.Set(ctx, "i:1", item{ID: "1", Count: 3}, tiercache.SetOptions{}))
	for _, tier := range tiercache.Tiers() {
		r, err := e.GetFromTier(ctx, tier, "i:1")
		require.NoError(t, err, tier.String())
		require.True(t, r.Hit, tier.String())
		assert.Equal(t, 3, r.Value.Count)
	}
	assert.True(t, len(mr.Keys()) >= 1, "L4 entry should live in redis")

	require.NoError(t, e.Invalidate(ctx, "i:1"))
	gen, err := mr.Get("tcgen:app:test:i:1")
	require.NoError(t, err)
	assert.Equal(t, "1", gen)

	require.NoError(t, e.Close(ctx))
	require.NoError(t, cleanup(ctx))
}

func TestBuildLoggers(t *testing.T) {
	ctx := context.Background()
	for _, kind := range []string{"", "zap", "logrus", "slog"} {
		f := &File{Logger: LoggerConfig{Kind: kind, Level: "error"}}
		opts, cleanup, err := Build[item](ctx, f)
		require.NoError(t, err, kind)
		require.NotNil(t, opts.Logger, kind)
		opts.Logger.Debug("dropped", tiercache.Fields{"kind": kind})
		require.NoError(t, cleanup(ctx))
	}

	_, _, err := Build[item](ctx, &File{Logger: LoggerConfig{Kind: "zap", Level: "loud"}})
	assert.Error(t, err)
}
