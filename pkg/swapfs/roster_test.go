package swapfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilenameIsDecimalIndex(t *testing.T) {
	r := NewRoster("/swap", 4096)
	assert.Equal(t, "/swap/0", r.Filename(0))
	assert.Equal(t, "/swap/31", r.Filename(31))
}

func TestOwnedIndexAcceptsCanonicalNamesOnly(t *testing.T) {
	r := NewRoster("/swap", 4096)

	cases := []struct {
		name string
		want int
		ok   bool
	}{
		{"/swap/0", 0, true},
		{"/swap/31", 31, true},
		{"/swap/32", 0, false},  // one past the last slot
		{"/swap/-1", 0, false},  // not representable, and sign char rejected
		{"/swap/007", 0, false}, // leading zero isn't canonical
		{"/swap/foo", 0, false},
		{"/other/0", 0, false},
	}
	for _, c := range cases {
		idx, ok := r.ownedIndex(c.name)
		assert.Equalf(t, c.ok, ok, "name=%q", c.name)
		if c.ok {
			assert.Equal(t, c.want, idx)
		}
	}
}

func TestFindFreeSlotPrefersCursorWraparound(t *testing.T) {
	r := NewRoster("/swap", 4096)
	r.entries[0] = SwapEntry{SizeBytes: 1}
	r.nextSeq = 0

	// Slot 1 is the next free slot after the cursor.
	assert.Equal(t, 1, r.findFreeSlot())

	for i := 1; i < MaxSwapfiles; i++ {
		r.entries[i] = SwapEntry{SizeBytes: 1}
	}
	// Every slot, 0 included, is now active; wraparound finds nothing
	// before the cursor either, so it falls back to the cursor.
	assert.Equal(t, 0, r.findFreeSlot())
}

func TestAdvanceCursorWrapsAtMax(t *testing.T) {
	r := NewRoster("/swap", 4096)
	r.advanceCursor(MaxSwapfiles - 1)
	assert.Equal(t, 0, r.nextSeq)
	r.advanceCursor(5)
	assert.Equal(t, 6, r.nextSeq)
}

func TestFindRetirablePrefersLargestWithinTargetLowestIndexOnTie(t *testing.T) {
	r := NewRoster("/swap", 4096)
	r.entries[3] = SwapEntry{SizeBytes: 100}
	r.entries[7] = SwapEntry{SizeBytes: 100}
	r.entries[9] = SwapEntry{SizeBytes: 50}
	r.entries[11] = SwapEntry{SizeBytes: 300} // too big for target

	assert.Equal(t, 3, r.findRetirable(200))
	assert.Equal(t, 9, r.findRetirable(60))
	assert.Equal(t, -1, r.findRetirable(10))
}

func TestActiveCount(t *testing.T) {
	r := NewRoster("/swap", 4096)
	assert.Equal(t, 0, r.ActiveCount())
	r.entries[0] = SwapEntry{SizeBytes: 1}
	r.entries[5] = SwapEntry{SizeBytes: 1}
	assert.Equal(t, 2, r.ActiveCount())
}
