// Package zap adapts a *zap.Logger to tiercache.Logger.
package zap

import (
	"sort"

	"github.com/unkn0wn-root/tiercache"
	"go.uber.org/zap"
)

var _ tiercache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New names the logger "tiercache" so engine lines are easy to filter.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("tiercache")} }

func (z ZapLogger) Debug(msg string, f tiercache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f tiercache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f tiercache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f tiercache.Fields) { z.L.Error(msg, zf(f)...) }

// zf emits fields in key order; errors go through zap.Error so they keep
// the "error" key zap tooling expects.
func zf(f tiercache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok && k == "err" {
			out = append(out, zap.Error(err))
			continue
		}
		out = append(out, zap.Any(k, f[k]))
	}
	return out
}
