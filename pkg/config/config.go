// Package config implements the daemon's validated, read-only-after-load
// configuration record, and the file-parsing half of the two layers that
// populate it (the other half is command-line flags, registered directly
// onto this package's Config fields in cmd/swapspaced/main.go). Command-
// line flags always win; see that file's two-phase parse for how a
// --configfile flag can still relocate the file read by this package.
package config

import (
	"fmt"

	"go.uber.org/multierr"
)

// Config is the fully resolved, validated daemon configuration. Every
// field corresponds to one command-line/config-file option; the record is
// built once at startup and never mutated afterward.
type Config struct {
	BufferElasticity int64  // 0..100
	CacheElasticity  int64  // 0..100
	ConfigFile       string // path, "" if none
	CooldownSeconds  int64  // >=0
	Daemonize        bool
	Erase            bool
	FreeTarget       int64 // 2..99
	Inspect          bool
	LowerFreeLimit   int64 // 0..99
	MaxSwapsize      int64 // bytes, >=8192
	MinSwapsize      int64 // bytes, >=8192 and >=10 pages
	Paranoid         bool
	PidFile          string
	Quiet            bool
	Verbose          bool
	SwapPath         string // absolute path
	UpperFreeLimit   int64 // 0..100
}

// Default returns the built-in defaults before any file or flag overrides
// the record.
func Default() Config {
	return Config{
		BufferElasticity: 30,
		CacheElasticity:  80,
		CooldownSeconds:  600,
		FreeTarget:       30,
		LowerFreeLimit:   20,
		MaxSwapsize:      1 << 30,    // 1 GiB
		MinSwapsize:      64 << 20,   // 64 MiB
		SwapPath:         "/var/lib/swapspace",
		UpperFreeLimit:   60,
	}
}

// Validate checks every configuration constraint and returns every
// violation at once via go.uber.org/multierr, rather than stopping at the
// first.
func Validate(c Config, pageSize int64) error {
	var errs error
	add := func(err error) {
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.BufferElasticity < 0 || c.BufferElasticity > 100 {
		add(fmt.Errorf("buffer_elasticity must be 0..100, got %d", c.BufferElasticity))
	}
	if c.CacheElasticity < 0 || c.CacheElasticity > 100 {
		add(fmt.Errorf("cache_elasticity must be 0..100, got %d", c.CacheElasticity))
	}
	if c.CooldownSeconds < 0 {
		add(fmt.Errorf("cooldown must be >= 0, got %d", c.CooldownSeconds))
	}
	if !(c.LowerFreeLimit < c.FreeTarget && c.FreeTarget < c.UpperFreeLimit) {
		add(fmt.Errorf("must hold lower_freelimit(%d) < freetarget(%d) < upper_freelimit(%d)",
			c.LowerFreeLimit, c.FreeTarget, c.UpperFreeLimit))
	}
	if c.LowerFreeLimit < 0 || c.LowerFreeLimit > 99 {
		add(fmt.Errorf("lower_freelimit must be 0..99, got %d", c.LowerFreeLimit))
	}
	if c.FreeTarget < 2 || c.FreeTarget > 99 {
		add(fmt.Errorf("freetarget must be 2..99, got %d", c.FreeTarget))
	}
	if c.UpperFreeLimit < 0 || c.UpperFreeLimit > 100 {
		add(fmt.Errorf("upper_freelimit must be 0..100, got %d", c.UpperFreeLimit))
	}
	if c.MinSwapsize < 8192 {
		add(fmt.Errorf("min_swapsize must be >= 8192, got %d", c.MinSwapsize))
	}
	if pageSize > 0 && c.MinSwapsize < 10*pageSize {
		add(fmt.Errorf("min_swapsize must be >= 10 pages (%d bytes), got %d", 10*pageSize, c.MinSwapsize))
	}
	if c.MaxSwapsize < 8192 {
		add(fmt.Errorf("max_swapsize must be >= 8192, got %d", c.MaxSwapsize))
	}
	if c.MinSwapsize > c.MaxSwapsize {
		add(fmt.Errorf("min_swapsize(%d) must be <= max_swapsize(%d)", c.MinSwapsize, c.MaxSwapsize))
	}
	if c.SwapPath == "" || c.SwapPath[0] != '/' {
		add(fmt.Errorf("swappath must be an absolute path, got %q", c.SwapPath))
	}
	for _, r := range c.SwapPath {
		if r == ' ' || r == '\t' || r == '\n' {
			add(fmt.Errorf("swappath must not contain whitespace, got %q", c.SwapPath))
			break
		}
	}
	if c.Quiet && c.Verbose {
		add(fmt.Errorf("quiet and verbose are mutually exclusive"))
	}

	return errs
}
