// Package config builds engine options from a YAML file.
//
//	namespace: app:prod:user
//	default_ttl: 10m
//	strategy: write-behind
//	serialization: msgpack
//	compression: true
//	logger: {kind: zap, level: info}
//	redis: {addr: localhost:6379}
//	genstore: redis
//	tiers:
//	  L1: {backend: memory, max_entries: 5000}
//	  L2: {backend: ristretto, max_entries: 50000, ristretto: {max_cost: 67108864}}
//	  L3: {backend: bigcache, bigcache: {hard_max_cache_size_mb: 512}}
//	  L4: {backend: redis}
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	vk "github.com/valkey-io/valkey-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/tiercache"
	c "github.com/unkn0wn-root/tiercache/codec"
	gen "github.com/unkn0wn-root/tiercache/genstore"
	logruslog "github.com/unkn0wn-root/tiercache/log/logrus"
	slogadapter "github.com/unkn0wn-root/tiercache/log/slog"
	zaplog "github.com/unkn0wn-root/tiercache/log/zap"
	pr "github.com/unkn0wn-root/tiercache/provider"
	"github.com/unkn0wn-root/tiercache/provider/bigcache"
	rprov "github.com/unkn0wn-root/tiercache/provider/redis"
	"github.com/unkn0wn-root/tiercache/provider/ristretto"
	vprov "github.com/unkn0wn-root/tiercache/provider/valkey"
)

// Backends a tier can use.
const (
	BackendMemory    = "memory"
	BackendRistretto = "ristretto"
	BackendBigcache  = "bigcache"
	BackendRedis     = "redis"
	BackendValkey    = "valkey"
)

type File struct {
	Namespace     string        `yaml:"namespace"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
	Strategy      string        `yaml:"strategy"`
	WriteBehind   bool          `yaml:"write_behind"`
	Compression   bool          `yaml:"compression"`
	Serialization string        `yaml:"serialization"` // json (default), msgpack, cbor
	StrictDecode  bool          `yaml:"strict_decode"` // json: reject unknown fields; msgpack: also honour json tags
	EvictFraction float64       `yaml:"evict_fraction"`
	Disabled      bool          `yaml:"disabled"`

	Tiers map[tiercache.Tier]TierConfig `yaml:"tiers"`

	Queue           QueueConfig   `yaml:"queue"`
	MetricsInterval time.Duration `yaml:"metrics_interval"`
	Warmup          WarmupConfig  `yaml:"warmup"`
	Logger          LoggerConfig  `yaml:"logger"`

	// GenStore is "local" (default) or "redis"; redis uses the Redis block.
	GenStore    string        `yaml:"genstore"`
	GenStoreTTL time.Duration `yaml:"genstore_ttl"`

	Redis  RedisConfig  `yaml:"redis"`
	Valkey ValkeyConfig `yaml:"valkey"`
}

type TierConfig struct {
	Backend    string          `yaml:"backend"` // "" => memory
	MaxEntries int             `yaml:"max_entries"`
	Ristretto  RistrettoConfig `yaml:"ristretto"`
	Bigcache   BigcacheConfig  `yaml:"bigcache"`
}

type RistrettoConfig struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
	BufferItems int64 `yaml:"buffer_items"`
}

type BigcacheConfig struct {
	LifeWindow         time.Duration `yaml:"life_window"`
	Shards             int           `yaml:"shards"`
	HardMaxCacheSizeMB int           `yaml:"hard_max_cache_size_mb"`
}

type QueueConfig struct {
	BufferSize        int           `yaml:"buffer_size"`
	FlushInterval     time.Duration `yaml:"flush_interval"`
	SuperviseInterval time.Duration `yaml:"supervise_interval"`
}

type WarmupConfig struct {
	Concurrency int `yaml:"concurrency"`
}

type LoggerConfig struct {
	Kind  string `yaml:"kind"` // zap, logrus, slog; "" disables logging
	Level string `yaml:"level"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type ValkeyConfig struct {
	Addrs []string `yaml:"addrs"`
}

func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a config. Unknown fields are rejected.
func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	if f.Strategy != "" {
		if _, err := tiercache.ParseStrategy(f.Strategy); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	switch f.Serialization {
	case "", "json", "msgpack", "cbor":
	default:
		return fmt.Errorf("config: unknown serialization %q", f.Serialization)
	}
	switch f.Logger.Kind {
	case "", "zap", "logrus", "slog":
	default:
		return fmt.Errorf("config: unknown logger %q", f.Logger.Kind)
	}
	switch f.GenStore {
	case "", "local":
	case "redis":
		if f.Redis.Addr == "" {
			return errors.New("config: genstore redis needs redis.addr")
		}
	default:
		return fmt.Errorf("config: unknown genstore %q", f.GenStore)
	}
	for t, tc := range f.Tiers {
		if !t.Valid() {
			return fmt.Errorf("config: %w", tiercache.ErrInvalidTier)
		}
		switch tc.Backend {
		case "", BackendMemory, BackendRistretto, BackendBigcache:
		case BackendRedis:
			if f.Redis.Addr == "" {
				return fmt.Errorf("config: tier %s uses redis but redis.addr is empty", t)
			}
		case BackendValkey:
			if len(f.Valkey.Addrs) == 0 {
				return fmt.Errorf("config: tier %s uses valkey but valkey.addrs is empty", t)
			}
		default:
			return fmt.Errorf("config: tier %s: unknown backend %q", t, tc.Backend)
		}
	}
	return nil
}

// Build turns f into engine options. The returned cleanup closes the
// clients Build created and flushes the logger; call it after Engine.Close.
// On error everything already created is released.
func Build[V any](ctx context.Context, f *File) (tiercache.Options[V], func(context.Context) error, error) {
	b := &builder{}
	opts, err := build[V](ctx, f, b)
	if err != nil {
		for _, p := range b.made {
			_ = p.Close(ctx)
		}
		_ = b.cleanup(ctx)
		return tiercache.Options[V]{}, nil, err
	}
	return opts, b.cleanup, nil
}

type builder struct {
	rdb     goredis.UniversalClient
	vkc     vk.Client
	made    []pr.Provider // closed here only if Build fails
	closers []func(context.Context) error
}

func (b *builder) cleanup(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *builder) redis(rc RedisConfig) goredis.UniversalClient {
	if b.rdb == nil {
		b.rdb = goredis.NewClient(&goredis.Options{
			Addr:     rc.Addr,
			Username: rc.Username,
			Password: rc.Password,
			DB:       rc.DB,
		})
		rdb := b.rdb
		b.closers = append(b.closers, func(context.Context) error { return rdb.Close() })
	}
	return b.rdb
}

func (b *builder) valkey(vc ValkeyConfig) (vk.Client, error) {
	if b.vkc == nil {
		cl, err := vk.NewClient(vk.ClientOption{InitAddress: vc.Addrs})
		if err != nil {
			return nil, fmt.Errorf("config: valkey: %w", err)
		}
		b.vkc = cl
		b.closers = append(b.closers, func(context.Context) error { cl.Close(); return nil })
	}
	return b.vkc, nil
}

func build[V any](ctx context.Context, f *File, b *builder) (tiercache.Options[V], error) {
	if err := f.Validate(); err != nil {
		return tiercache.Options[V]{}, err
	}
	opts := tiercache.Options[V]{
		Namespace:         f.Namespace,
		DefaultTTL:        f.DefaultTTL,
		DefaultStrategy:   tiercache.Strategy(f.Strategy),
		WriteBehind:       f.WriteBehind,
		Compression:       f.Compression,
		EvictFraction:     f.EvictFraction,
		WriteBufferSize:   f.Queue.BufferSize,
		FlushInterval:     f.Queue.FlushInterval,
		SuperviseInterval: f.Queue.SuperviseInterval,
		MetricsInterval:   f.MetricsInterval,
		WarmupConcurrency: f.Warmup.Concurrency,
		Disabled:          f.Disabled,
	}

	codec, err := buildCodec[V](f.Serialization, f.StrictDecode)
	if err != nil {
		return opts, err
	}
	opts.Codec = codec

	if opts.Logger, err = b.logger(f.Logger); err != nil {
		return opts, err
	}

	for t, tc := range f.Tiers {
		p, err := b.provider(ctx, f, tc)
		if err != nil {
			return opts, fmt.Errorf("config: tier %s: %w", t, err)
		}
		if p != nil {
			b.made = append(b.made, p)
		}
		opts.Tiers[int(t)-1] = tiercache.TierOptions[V]{MaxEntries: tc.MaxEntries, Provider: p}
	}

	if f.GenStore == "redis" {
		opts.GenStore = gen.NewRedis(gen.RedisConfig{
			Client:    b.redis(f.Redis),
			Namespace: f.Namespace,
			TTL:       f.GenStoreTTL,
		})
	}
	return opts, nil
}

func buildCodec[V any](name string, strict bool) (c.Codec[V], error) {
	switch name {
	case "", "json":
		return c.JSON[V]{Strict: strict}, nil
	case "msgpack":
		return c.Msgpack[V]{JSONTags: strict}, nil
	case "cbor":
		cb, err := c.NewCBOR[V](true)
		if err != nil {
			return nil, err
		}
		return cb, nil
	}
	return nil, fmt.Errorf("config: unknown serialization %q", name)
}

// provider returns nil for memory tiers; the engine then uses a MemTier.
// Providers are closed by the engine, shared clients by cleanup.
func (b *builder) provider(ctx context.Context, f *File, tc TierConfig) (pr.Provider, error) {
	switch tc.Backend {
	case "", BackendMemory:
		return nil, nil
	case BackendRistretto:
		rc := tc.Ristretto
		if rc.MaxCost == 0 {
			rc.MaxCost = 64 << 20
		}
		if rc.NumCounters == 0 {
			rc.NumCounters = 10 * int64(max(tc.MaxEntries, 100_000))
		}
		if rc.BufferItems == 0 {
			rc.BufferItems = 64
		}
		return ristretto.New(ristretto.Config{
			NumCounters: rc.NumCounters,
			MaxCost:     rc.MaxCost,
			BufferItems: rc.BufferItems,
		})
	case BackendBigcache:
		return bigcache.New(ctx, bigcache.Config{
			LifeWindow:         tc.Bigcache.LifeWindow,
			Shards:             tc.Bigcache.Shards,
			HardMaxCacheSizeMB: tc.Bigcache.HardMaxCacheSizeMB,
		})
	case BackendRedis:
		return rprov.New(rprov.Config{Client: b.redis(f.Redis)})
	case BackendValkey:
		cl, err := b.valkey(f.Valkey)
		if err != nil {
			return nil, err
		}
		return vprov.New(vprov.Config{Client: cl})
	}
	return nil, fmt.Errorf("unknown backend %q", tc.Backend)
}

func (b *builder) logger(lc LoggerConfig) (tiercache.Logger, error) {
	level := strings.ToLower(lc.Level)
	if level == "" {
		level = "info"
	}
	switch lc.Kind {
	case "":
		return tiercache.NopLogger{}, nil
	case "zap":
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("config: logger level: %w", err)
		}
		zc := zap.NewProductionConfig()
		zc.Level = zap.NewAtomicLevelAt(lvl)
		l, err := zc.Build()
		if err != nil {
			return nil, fmt.Errorf("config: zap: %w", err)
		}
		b.closers = append(b.closers, func(context.Context) error {
			_ = l.Sync() // fails on stderr/tty; nothing to do about it
			return nil
		})
		return zaplog.New(l), nil
	case "logrus":
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("config: logger level: %w", err)
		}
		l := logrus.New()
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logruslog.New(l), nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("config: logger level: %w", err)
		}
		h := stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: lvl})
		return slogadapter.New(stdslog.New(h)), nil
	}
	return nil, fmt.Errorf("config: unknown logger %q", lc.Kind)
}
