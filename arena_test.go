package bincore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTrampolineArenaAllocIsContiguousAndBumps(t *testing.T) {
	a := NewTrampolineArena(0x1000, 0x4000)

	first := a.Alloc(16)
	second := a.Alloc(32)

	assert.Equal(t, Address(0x1000), first)
	assert.Equal(t, Address(0x1010), second)
	assert.Equal(t, 48, a.Used())
	assert.Equal(t, Address(0x1030), a.End())
}

func TestTrampolineArenaGrowsByWholeIncrements(t *testing.T) {
	a := NewTrampolineArena(0, 0x4000)

	a.Alloc(0x3000)
	require.Equal(t, 1, a.Growths())
	require.Equal(t, 0x4000, a.Capacity())

	// This allocation pushes the cursor past the first increment, so the
	// arena must grow again rather than silently overlapping.
	a.Alloc(0x2000)
	assert.Equal(t, 2, a.Growths())
	assert.Equal(t, 0x8000, a.Capacity())
}

func TestTrampolineArenaDefaultsIncrementWhenNonPositive(t *testing.T) {
	a := NewTrampolineArena(0, 0)
	a.Alloc(1)
	assert.Equal(t, TrampolineArenaIncrement, a.Capacity())
}

func TestAlignToPageRoundsUpToHostPageSize(t *testing.T) {
	pageSize := Address(unix.Getpagesize())
	aligned := AlignToPage(1)
	assert.Equal(t, pageSize, aligned)
	assert.Equal(t, Address(0), aligned%pageSize)
}

func TestAlignIntRoundsUpToAlignment(t *testing.T) {
	assert.Equal(t, 0, alignInt(0, 8))
	assert.Equal(t, 8, alignInt(1, 8))
	assert.Equal(t, 8, alignInt(8, 8))
	assert.Equal(t, 16, alignInt(9, 8))
	assert.Equal(t, 5, alignInt(5, 0))
}
