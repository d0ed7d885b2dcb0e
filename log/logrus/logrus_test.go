package logrus

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/unkn0wn-root/tiercache"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Info("warmup completed", tiercache.Fields{"loaded": 7})
	l.Error("invalidate failed", tiercache.Fields{"key": "k", "err": errors.New("down")})

	if len(hook.Entries) != 2 {
		t.Fatalf("entries = %d", len(hook.Entries))
	}
	first := hook.Entries[0]
	if first.Data["component"] != "tiercache" || first.Data["loaded"] != 7 {
		t.Fatalf("fields: %v", first.Data)
	}
	last := hook.LastEntry()
	if last.Level != logrus.ErrorLevel || last.Data[logrus.ErrorKey].(error).Error() != "down" || last.Data["key"] != "k" {
		t.Fatalf("error entry: %v", last.Data)
	}
}
