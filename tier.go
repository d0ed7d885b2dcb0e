package tiercache

import (
	"fmt"
	"strings"
)

// Tier is one of the four cache levels, ordered fastest/smallest (L1) to
// slowest/largest (L4).
type Tier uint8

const (
	L1 Tier = iota + 1
	L2
	L3
	L4
)

const numTiers = 4

// Tiers returns all tiers, fastest first.
func Tiers() []Tier { return []Tier{L1, L2, L3, L4} }

func (t Tier) Valid() bool { return t >= L1 && t <= L4 }

func (t Tier) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tier(%d)", uint8(t))
	}
	return "L" + string('0'+byte(t))
}

func (t Tier) index() int { return int(t) - 1 }

func tierAt(i int) Tier { return Tier(i + 1) }

// ParseTier accepts "L1".."L4" (case-insensitive).
func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "L1":
		return L1, nil
	case "L2":
		return L2, nil
	case "L3":
		return L3, nil
	case "L4":
		return L4, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// MarshalText renders the tier as "L1".."L4" so tiers work as JSON/YAML map keys.
func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	v, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
