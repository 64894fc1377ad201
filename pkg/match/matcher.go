package match

import (
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrInvalidPattern is returned when a glob does not compile.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// PatternError names the pattern that failed to compile.
type PatternError struct {
	Pattern string
	Err     error
}

func (e *PatternError) Error() string { return "pattern " + e.Pattern + ": " + e.Err.Error() }

func (e *PatternError) Unwrap() error { return e.Err }

// Config configures a Matcher. The zero Config accepts every object.
type Config struct {
	// Includes are globs of which a key must match at least one. Empty
	// means every key.
	Includes []string

	// Excludes are globs no key may match.
	Excludes []string

	// ExcludeHidden rejects keys with a segment starting with '.'.
	ExcludeHidden bool

	// MinSize and MaxSize bound the object size inclusively, for example
	// "1KB" or "100MiB".
	MinSize string
	MaxSize string
}

// Matcher decides whether an arriving source object is relayed. It is
// immutable and safe for concurrent use.
type Matcher struct {
	includes      []string
	excludes      []string
	excludeHidden bool
	size          *SizeFilter
}

// New compiles cfg. Patterns go through NormalizePattern first; keys are
// matched verbatim.
func New(cfg Config) (*Matcher, error) {
	m := &Matcher{excludeHidden: cfg.ExcludeHidden}

	var err error
	if m.includes, err = compile(cfg.Includes); err != nil {
		return nil, err
	}
	if m.excludes, err = compile(cfg.Excludes); err != nil {
		return nil, err
	}
	if m.size, err = NewSizeFilter(cfg.MinSize, cfg.MaxSize); err != nil {
		return nil, fmt.Errorf("size filter: %w", err)
	}
	return m, nil
}

func compile(raw []string) ([]string, error) {
	var out []string
	for _, p := range raw {
		n := NormalizePattern(p)
		switch {
		case n == "":
			continue
		case !doublestar.ValidatePattern(n):
			return nil, &PatternError{Pattern: p, Err: ErrInvalidPattern}
		}
		out = append(out, n)
	}
	return out, nil
}

// Match reports whether key passes the hidden and pattern checks.
func (m *Matcher) Match(key string) bool {
	return m.rejectKey(key) == ""
}

// Accept reports whether the object passes every check. A negative size is
// unknown and bypasses the size range.
func (m *Matcher) Accept(key string, size int64) bool {
	return m.Reject(key, size) == ""
}

// Reject returns why the object is filtered out, or "" if it is accepted.
func (m *Matcher) Reject(key string, size int64) string {
	if reason := m.rejectKey(key); reason != "" {
		return reason
	}
	if size >= 0 && m.size != nil && !m.size.Match(size) {
		return fmt.Sprintf("size %s outside %s", FormatSize(size), m.size)
	}
	return ""
}

func (m *Matcher) rejectKey(key string) string {
	if m.excludeHidden && IsHidden(key) {
		return "hidden key"
	}
	if len(m.includes) > 0 && firstMatch(m.includes, key) == "" {
		return "no include pattern matched"
	}
	if p := firstMatch(m.excludes, key); p != "" {
		return "excluded by " + p
	}
	return ""
}

// firstMatch returns the first pattern matching key, or "".
func firstMatch(patterns []string, key string) string {
	for _, p := range patterns {
		// Patterns are validated in New, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, key); ok {
			return p
		}
	}
	return ""
}

// IncludePatterns returns a copy of the normalized include patterns.
func (m *Matcher) IncludePatterns() []string { return append([]string(nil), m.includes...) }

// ExcludePatterns returns a copy of the normalized exclude patterns.
func (m *Matcher) ExcludePatterns() []string { return append([]string(nil), m.excludes...) }

// String describes the matcher for logs.
func (m *Matcher) String() string {
	s := fmt.Sprintf("includes=%v excludes=%v", m.includes, m.excludes)
	if m.size != nil {
		s += " " + m.size.String()
	}
	return s
}
