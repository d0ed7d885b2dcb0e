package util

import "strings"

// TierKey is the storage key for key in tier of namespace:
// "tc:<ns>:<tier>:<key>".
func TierKey(ns, tier, key string) string {
	var b strings.Builder
	b.Grow(3 + len(ns) + 1 + len(tier) + 1 + len(key) + 1)
	b.WriteString("tc:")
	b.WriteString(ns)
	b.WriteByte(':')
	b.WriteString(tier)
	b.WriteByte(':')
	b.WriteString(key)
	return b.String()
}

// HasGlob reports whether pattern contains path.Match metacharacters.
func HasGlob(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[\`)
}
