package match

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrInvalidSize is returned for unparseable or inconsistent size values.
var ErrInvalidSize = errors.New("invalid size value")

// SizeFilter bounds the object size accepted by a Matcher. A negative bound is
// unset.
type SizeFilter struct {
	min int64
	max int64
}

// NewSizeFilter builds a filter from human-readable bounds such as "1KiB" or
// "5GB". It returns nil when both bounds are blank.
func NewSizeFilter(minSize, maxSize string) (*SizeFilter, error) {
	minSize, maxSize = strings.TrimSpace(minSize), strings.TrimSpace(maxSize)
	if minSize == "" && maxSize == "" {
		return nil, nil
	}

	f := &SizeFilter{min: -1, max: -1}
	var err error
	if minSize != "" {
		if f.min, err = ParseSize(minSize); err != nil {
			return nil, fmt.Errorf("min size: %w", err)
		}
	}
	if maxSize != "" {
		if f.max, err = ParseSize(maxSize); err != nil {
			return nil, fmt.Errorf("max size: %w", err)
		}
	}
	if f.max >= 0 && f.min > f.max {
		return nil, fmt.Errorf("%w: min (%d) > max (%d)", ErrInvalidSize, f.min, f.max)
	}
	return f, nil
}

// Match reports whether size lies within the bounds, inclusive.
func (f *SizeFilter) Match(size int64) bool {
	return (f.min < 0 || size >= f.min) && (f.max < 0 || size <= f.max)
}

func (f *SizeFilter) String() string {
	switch {
	case f.min >= 0 && f.max >= 0:
		return fmt.Sprintf("size: %s - %s", FormatSize(f.min), FormatSize(f.max))
	case f.min >= 0:
		return "size: >= " + FormatSize(f.min)
	case f.max >= 0:
		return "size: <= " + FormatSize(f.max)
	default:
		return "size: any"
	}
}

// ParseSize parses a byte count with an optional SI (KB = 1000) or IEC
// (KiB = 1024) unit, case-insensitively. A bare number is bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidSize
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidSize, s, err)
	}
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q overflows int64", ErrInvalidSize, s)
	}
	return int64(n), nil
}

// FormatSize renders n with IEC units, e.g. "1.5 KiB".
func FormatSize(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}
	return humanize.IBytes(uint64(n))
}
