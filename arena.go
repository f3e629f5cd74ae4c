package bincore

import "golang.org/x/sys/unix"

// TrampolineArena is the bump allocator Layout uses to hand out
// contiguous regions, both for trampolines and for each payload
// sub-arena. It grows in fixed TrampolineArenaIncrement-sized chunks.
// The trampoline arena's base is page-aligned by Layout with
// AlignToPage, which uses the host page size from golang.org/x/sys/unix
// rather than a hardcoded 4096.
type TrampolineArena struct {
	increment int
	base      Address
	cursor    int // bytes allocated so far, relative to base
	capacity  int // total bytes currently reserved, a multiple of increment
	growths   int
}

// NewTrampolineArena creates an arena rooted at base, used as given
// (align it first with AlignToPage or nextAligned where needed), with
// the given growth increment.
func NewTrampolineArena(base Address, increment int) *TrampolineArena {
	if increment <= 0 {
		increment = TrampolineArenaIncrement
	}
	return &TrampolineArena{increment: increment, base: base}
}

// AlignToPage rounds addr up to the next host page boundary.
func AlignToPage(addr Address) Address {
	return nextAligned(addr, Address(unix.Getpagesize()))
}

// Alloc reserves size contiguous bytes, growing the arena by whole
// increments as needed, and returns the address of the reserved region.
func (a *TrampolineArena) Alloc(size int) Address {
	for a.cursor+size > a.capacity {
		a.capacity += a.increment
		a.growths++
	}
	addr := a.base + Address(a.cursor)
	a.cursor += size
	return addr
}

// AllocAligned reserves size contiguous bytes whose address is a
// multiple of align, padding the cursor forward first if needed.
func (a *TrampolineArena) AllocAligned(size int, align int) Address {
	aligned := alignInt(a.cursor, align)
	if aligned > a.cursor {
		a.Alloc(aligned - a.cursor)
	}
	return a.Alloc(size)
}

// Used returns the number of bytes handed out so far.
func (a *TrampolineArena) Used() int { return a.cursor }

// Capacity returns the arena's current reserved size (a multiple of its
// increment).
func (a *TrampolineArena) Capacity() int { return a.capacity }

// Growths returns how many times the arena has grown by one increment.
func (a *TrampolineArena) Growths() int { return a.growths }

// End returns the address immediately past the region allocated so far.
func (a *TrampolineArena) End() Address { return a.base + Address(a.cursor) }

// nextAligned rounds addr up to the next multiple of align, a power of
// two — reused for every alignment need (word sizes, and the page size
// above).
func nextAligned(addr, align Address) Address {
	if align == 0 {
		return addr
	}
	mask := align - 1
	return (addr + mask) &^ mask
}

// alignInt is nextAligned's plain-int counterpart, used when laying out
// a payload's data region before any base address is known.
func alignInt(v, align int) int {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}
