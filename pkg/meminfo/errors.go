package meminfo

import "errors"

var (
	// ErrNoMemory is returned when /proc/meminfo contains no MemTotal entry,
	// or MemTotal is zero.
	ErrNoMemory = errors.New("meminfo: no memory detected")

	// ErrInvalidSnapshot is returned when a parsed snapshot violates the
	// mem_total >= mem_free + buffers + cached + swap_cached invariant.
	ErrInvalidSnapshot = errors.New("meminfo: invalid snapshot")
)
