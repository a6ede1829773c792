// Package sizeunit converts between byte counts and the unit notations this
// daemon has to read and write: the k/m/g/t command-line suffixes from the
// configuration surface, and the B/kB/KiB/MB/MiB/GB/GiB scale factors that
// appear at the end of /proc/meminfo lines.
package sizeunit

import (
	"fmt"
	"strconv"
	"strings"
)

// Bytes is a byte count with human-friendly formatting and parsing.
type Bytes uint64

const (
	KB Bytes = 1 << (10 * (iota + 1))
	MB
	GB
	TB
)

// Humanized returns a human-readable string with an automatically chosen unit.
func (b Bytes) Humanized() string {
	v := float64(b)
	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", v/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", v/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", v/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", v/float64(KB))
	default:
		return fmt.Sprintf("%d B", uint64(b))
	}
}

// ParseSuffixed parses a decimal integer optionally followed by a single
// k/m/g/t suffix (case-insensitive), each a power of 1024, as accepted by
// swapspaced's command-line and config-file numeric options.
func ParseSuffixed(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("sizeunit: empty value")
	}

	scale := int64(1)
	last := s[len(s)-1]
	switch last {
	case 'k', 'K':
		scale = int64(KB)
	case 'm', 'M':
		scale = int64(MB)
	case 'g', 'G':
		scale = int64(GB)
	case 't', 'T':
		scale = int64(TB)
	}
	digits := s
	if scale != 1 {
		digits = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("sizeunit: invalid numeric value %q: %w", s, err)
	}
	return n * scale, nil
}

// Value adapts an *int64 byte-count field to the flag-value interface
// (String/Set/Type), so command-line size options accept the same k/m/g/t
// suffixes as the config file.
type Value struct {
	p *int64
}

// NewValue wraps p as a suffix-accepting flag value. The pointed-to int64
// keeps whatever it already holds as the default.
func NewValue(p *int64) *Value { return &Value{p: p} }

func (v *Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatInt(*v.p, 10)
}

func (v *Value) Set(s string) error {
	n, err := ParseSuffixed(s)
	if err != nil {
		return err
	}
	*v.p = n
	return nil
}

func (v *Value) Type() string { return "bytes" }

// ParseMeminfoUnit parses the scale factor trailing a /proc/meminfo value,
// e.g. "kB", "KiB", "MB", "GiB", or the empty string (meaning bytes).
//
// The case-insensitive first letter identifies the scale (b=1, k=1024,
// m=1024^2, g=1024^3); a trailing "i" or "B" is only accepted in the
// positions the real kernel ever emits them in ("kB", "KiB", or bare "k"/"K").
func ParseMeminfoUnit(unit string) (int64, error) {
	if unit == "" {
		return 1, nil
	}

	switch len(unit) {
	case 1:
		return scaleFromLetter(unit[0])
	case 2:
		if unit[1] != 'B' {
			return 0, fmt.Errorf("sizeunit: unknown unit %q", unit)
		}
		return scaleFromLetter(unit[0])
	case 3:
		if unit[1] != 'i' || unit[2] != 'B' {
			return 0, fmt.Errorf("sizeunit: unknown unit %q", unit)
		}
		return scaleFromLetter(unit[0])
	default:
		return 0, fmt.Errorf("sizeunit: unknown unit %q", unit)
	}
}

func scaleFromLetter(c byte) (int64, error) {
	switch c {
	case 'b', 'B':
		return 1, nil
	case 'k', 'K':
		return int64(KB), nil
	case 'm', 'M':
		return int64(MB), nil
	case 'g', 'G':
		return int64(GB), nil
	default:
		return 0, fmt.Errorf("sizeunit: unknown scale letter %q", c)
	}
}
