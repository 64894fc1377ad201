// Package match filters source object keys with doublestar glob patterns and
// an optional size range.
package match

import (
	"strings"
)

// NormalizePattern trims a glob and turns path backslashes into forward
// slashes. A backslash that escapes a glob metacharacter or another
// backslash is kept as an escape. Leading and doubled slashes are left alone
// so the pattern still means what the operator typed.
//
//	`data\2024\**`     -> `data/2024/**`
//	`data\file\*.txt`  -> `data/file\*.txt`
func NormalizePattern(pattern string) string {
	pattern = strings.TrimSpace(pattern)
	if !strings.Contains(pattern, `\`) {
		return pattern
	}

	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(pattern) && strings.IndexByte(`*?[]{}\`, pattern[i+1]) >= 0 {
			b.WriteByte('\\')
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		b.WriteByte('/')
	}
	return b.String()
}

// SplitPatterns splits a comma-separated pattern list, dropping blanks.
func SplitPatterns(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsHidden reports whether any segment of key starts with a dot.
func IsHidden(key string) bool {
	return strings.HasPrefix(key, ".") || strings.Contains(key, "/.")
}
