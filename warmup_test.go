package tiercache

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func staticKeys(keys ...string) KeyEnumerator {
	return KeyEnumeratorFunc(func(context.Context, string) ([]string, error) { return keys, nil })
}

func TestWarmupRecordsPartialFailures(t *testing.T) {
	ctx := context.Background()
	e, _, h := newTestEngine(t, func(o *Options[user]) { o.WarmupConcurrency = 2 })

	loader := func(_ context.Context, k string) (user, error) {
		switch k {
		case "u:3":
			return user{}, errors.New("not found")
		case "u:4":
			panic("bad row")
		}
		return user{ID: k}, nil
	}
	r, err := e.Warmup(ctx, []WarmupPattern[user]{{
		Name:     "users",
		Pattern:  "u:*",
		Loader:   loader,
		Strategy: WriteThrough,
		Keys:     staticKeys("u:1", "u:2", "u:3", "u:4", "u:5"),
	}})
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if r.Keys != 5 || r.Loaded != 3 || r.Failed != 2 {
		t.Fatalf("report totals: %+v", r)
	}
	pr := r.Patterns[0]
	if len(pr.Errors) != 2 || pr.Errors[0].Key != "u:3" || pr.Errors[1].Key != "u:4" {
		t.Fatalf("per-key errors: %+v", pr.Errors)
	}
	var le *LoadError
	if !errors.As(pr.Errors[0].Err, &le) {
		t.Fatalf("loader failure should be a *LoadError: %v", pr.Errors[0].Err)
	}
	if pr.Bytes <= 0 {
		t.Fatalf("bytes not accounted")
	}
	for _, k := range []string{"u:1", "u:2", "u:5"} {
		if res, _ := e.GetFromTier(ctx, L4, k); !res.Hit {
			t.Fatalf("%s not warmed into L4", k)
		}
	}
	m := e.Metrics()
	if m.Warmups != 1 || m.WarmupLoaded != 3 {
		t.Fatalf("warmup counters: %d/%d", m.Warmups, m.WarmupLoaded)
	}
	if h.warmupCount() != 1 || len(h.errorsFor(OpWarmup)) != 2 {
		t.Fatalf("hooks: warmups=%d errs=%d", h.warmupCount(), len(h.errorsFor(OpWarmup)))
	}
}

func TestWarmupLiteralPatternIsItsOwnKey(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, nil)

	r, err := e.Warmup(ctx, []WarmupPattern[user]{{
		Name:    "config",
		Pattern: "cfg:global",
		Loader:  func(context.Context, string) (user, error) { return user{Name: "g"}, nil },
	}})
	if err != nil || r.Loaded != 1 {
		t.Fatalf("Warmup: loaded=%d err=%v", r.Loaded, err)
	}
	if res := e.Get(ctx, "cfg:global"); !res.Hit || res.Value.Name != "g" {
		t.Fatalf("literal key not warmed: %+v", res)
	}
}

func TestWarmupGlobRefreshesResidentKeys(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, nil)
	for _, k := range []string{"sess:a", "sess:b", "user:a"} {
		_ = e.Set(ctx, k, user{Name: "old"}, SetOptions{Strategy: WriteThrough})
	}

	r, err := e.Warmup(ctx, []WarmupPattern[user]{{
		Name:    "sessions",
		Pattern: "sess:*",
		Loader: func(context.Context, string) (user, error) {
			return user{Name: "new"}, nil
		},
		Strategy: WriteThrough,
	}})
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if r.Keys != 2 {
		t.Fatalf("glob matched %d keys, want 2", r.Keys)
	}
	if e.Get(ctx, "sess:a").Value.Name != "new" || e.Get(ctx, "user:a").Value.Name != "old" {
		t.Fatalf("glob refreshed the wrong keys")
	}
}

func TestWarmupEnumerationFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("listing failed")
	e, _, _ := newTestEngine(t, func(o *Options[user]) {
		o.KeyEnumerator = KeyEnumeratorFunc(func(context.Context, string) ([]string, error) { return nil, boom })
	})

	r, err := e.Warmup(ctx, []WarmupPattern[user]{
		{Name: "a", Pattern: "a:*", Loader: func(context.Context, string) (user, error) { return user{}, nil }},
		{Name: "b", Pattern: "b", Loader: func(context.Context, string) (user, error) { return user{}, nil },
			Keys: staticKeys("b")},
	})
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if !errors.Is(r.Patterns[0].Err, boom) {
		t.Fatalf("enumeration error not recorded: %v", r.Patterns[0].Err)
	}
	if r.Patterns[1].Loaded != 1 {
		t.Fatalf("later patterns must still run")
	}
}

func TestWarmupRejectsBadPatterns(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t, nil)

	if _, err := e.Warmup(ctx, []WarmupPattern[user]{{Name: "x", Pattern: "x"}}); err == nil {
		t.Fatalf("missing loader accepted")
	}
	r, err := e.Warmup(ctx, []WarmupPattern[user]{{
		Name:    "bad",
		Pattern: "[",
		Loader:  func(context.Context, string) (user, error) { return user{}, nil },
	}})
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if r.Patterns[0].Err == nil || !strings.Contains(r.Patterns[0].Err.Error(), "[") {
		t.Fatalf("malformed glob should be reported: %v", r.Patterns[0].Err)
	}
}

func TestWarmupClosedEngine(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	_ = e.Close(context.Background())
	if _, err := e.Warmup(context.Background(), nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestWarmupOnDisabledEngineLoadsNothing(t *testing.T) {
	ctx := context.Background()
	e, _, h := newTestEngine(t, func(o *Options[user]) { o.Disabled = true })

	calls := 0
	r, err := e.Warmup(ctx, []WarmupPattern[user]{{
		Name:    "users",
		Pattern: "u:*",
		Loader: func(_ context.Context, k string) (user, error) {
			calls++
			return user{ID: k}, nil
		},
		Keys: staticKeys("u:1"),
	}})
	if err != nil {
		t.Fatalf("Warmup: %v", err)
	}
	if r.Loaded != 0 || calls != 0 {
		t.Fatalf("disabled warmup loaded %d (loader calls %d)", r.Loaded, calls)
	}
	if st := e.tiers[L1.index()].Stats(ctx); st.Entries != 0 {
		t.Fatalf("L1 entries = %d", st.Entries)
	}
	if h.warmupCount() != 0 {
		t.Fatalf("warmup hook fired on a disabled engine")
	}
}
