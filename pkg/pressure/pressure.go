// Package pressure turns a memory snapshot into a signed byte recommendation:
// positive means grow swap capacity, negative means shrink it.
package pressure

import "github.com/swapspaced/swapspaced/pkg/meminfo"

// Model holds the elasticity and threshold coefficients that turn a
// meminfo.Snapshot into an allocation recommendation. It is populated once
// at startup from validated configuration and is read-only thereafter.
type Model struct {
	// BufferElasticity is the percentage of Buffers counted as free, 0..100.
	BufferElasticity int64
	// CacheElasticity is the percentage of non-dirty Cached counted as free, 0..100.
	CacheElasticity int64
	// LowerFreeLimit triggers growth when percent-free drops below it, 0..99.
	LowerFreeLimit int64
	// UpperFreeLimit triggers shrinkage when percent-free rises above it, 0..100.
	UpperFreeLimit int64
	// FreeTarget is the percent-free aimed for once a threshold fires, 2..99.
	FreeTarget int64
}

// buffersFree estimates how much of Buffers the system could give back.
func (m Model) buffersFree(buffers uint64) int64 {
	return (int64(buffers) / 100) * m.BufferElasticity
}

// cacheFree estimates how much of the non-dirty, non-writeback Cached pages
// the system could give back.
func (m Model) cacheFree(cached, dirty, writeback uint64) int64 {
	reclaimable := int64(cached) - int64(dirty) - int64(writeback)
	if reclaimable <= 0 {
		return 0
	}
	return (reclaimable / 100) * m.CacheElasticity
}

// spaceFree estimates the total number of bytes that are, or could
// realistically be made, available.
func (m Model) spaceFree(s meminfo.Snapshot) int64 {
	return int64(s.MemFree) + int64(s.SwapFree) + int64(s.SwapCached) +
		m.buffersFree(s.Buffers) + m.cacheFree(s.Cached, s.Dirty, s.Writeback)
}

// spaceTotal is the combined physical-memory and swap capacity.
func spaceTotal(s meminfo.Snapshot) int64 {
	return int64(s.MemTotal) + int64(s.SwapTotal)
}

// PercentFree computes the percentage of total space estimated free. The
// division is deliberately performed total/100 first, to avoid 64-bit
// overflow on large-memory hosts.
func (m Model) PercentFree(s meminfo.Snapshot) int64 {
	total := spaceTotal(s)
	if total == 0 {
		return 0
	}
	return m.spaceFree(s) / (total / 100)
}

// IdealDelta solves, in closed form, for the signed byte delta x such that
// adding x bytes to both free and total space lands exactly on freetarget
// percent free:
//
//	(free+x) / (total+x) = freetarget/100
//
// The pre-scaling division by 100 keeps the computation inside int64 range
// for large-memory hosts; (total+50)/100 rounds rather than truncates.
func IdealDelta(total, free int64, freetarget int64) int64 {
	return 100 * ((free - freetarget*((total+50)/100)) / (freetarget - 100))
}

// Recommend computes the signed byte recommendation for snapshot s:
// positive recommends allocating that many bytes of additional swap,
// negative recommends freeing that many bytes, zero recommends no action.
//
// Recommend assumes the precondition UpperFreeLimit > LowerFreeLimit and
// LowerFreeLimit <= FreeTarget <= UpperFreeLimit, established by config
// validation.
func (m Model) Recommend(s meminfo.Snapshot) int64 {
	pct := m.PercentFree(s)
	if pct < m.LowerFreeLimit || pct > m.UpperFreeLimit {
		return IdealDelta(spaceTotal(s), m.spaceFree(s), m.FreeTarget)
	}
	return 0
}

// MinimumSwapfile returns the swap file size that would be required if the
// system sat exactly at the lower free-space threshold: the smallest size a
// caller should expect this daemon to ever need to allocate in one file.
func (m Model) MinimumSwapfile(total uint64) int64 {
	t := int64(total)
	freeAtLowerLimit := (t / 100) * m.LowerFreeLimit
	return IdealDelta(t, freeAtLowerLimit, m.FreeTarget)
}
