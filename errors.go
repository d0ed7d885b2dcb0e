package tiercache

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("tiercache: engine closed")
	ErrNoSource         = errors.New("tiercache: strategy needs a backing source")
	ErrInvalidTier      = errors.New("tiercache: invalid tier")
	ErrChecksumMismatch = errors.New("tiercache: checksum mismatch")
	ErrCorruptEntry     = errors.New("tiercache: corrupt entry")
	ErrRejected         = errors.New("tiercache: write rejected by provider")

	// ErrExpired is returned by TierStore.Get together with ok=false when the
	// lookup found an expired entry and removed it. It reports an eviction,
	// not a failure.
	ErrExpired = errors.New("tiercache: entry expired")
)

// LoadError is a loader failure observed by GetOrLoad. It never escapes as
// a returned error; it is carried in Result.Err and the Error hook.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %q: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// TierError attributes a storage failure to a tier.
type TierError struct {
	Tier Tier
	Op   string
	Key  string
	Err  error
}

func (e *TierError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s %s: %v", e.Tier, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %q: %v", e.Tier, e.Op, e.Key, e.Err)
}

func (e *TierError) Unwrap() error { return e.Err }

// InvalidateError reports a partially failed invalidation. DelErr joins the
// per-tier delete failures.
type InvalidateError struct {
	Key     string
	BumpErr error
	DelErr  error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.DelErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and delete failed: bump=%v; delete=%v",
			e.Key, e.BumpErr, e.DelErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.DelErr != nil:
		return fmt.Sprintf("invalidate %q: delete failed: %v", e.Key, e.DelErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.DelErr != nil {
		errs = append(errs, e.DelErr)
	}
	return errs
}

// joinErrs is errors.Join that returns a lone error unwrapped, so callers
// can type-assert single failures directly.
func joinErrs(errs []error) error {
	var first error
	n := 0
	for _, err := range errs {
		if err != nil {
			if n == 0 {
				first = err
			}
			n++
		}
	}
	switch n {
	case 0:
		return nil
	case 1:
		return first
	}
	return errors.Join(errs...)
}
